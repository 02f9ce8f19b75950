package cliutil

import (
	"encoding"
	"fmt"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	addressType  = reflect.TypeOf(common.Address{})
)

// PopulateStruct copies flag values into the fields of cfg that carry a `cli:"flag-name"` tag.
// Fields whose flag was not set keep their current value, so defaults can be filled in first.
func PopulateStruct(cfg any, ctx *cli.Context) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config must be a pointer to struct")
	}
	v = v.Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("cli")
		if name == "" || !v.Field(i).CanSet() || !ctx.IsSet(name) {
			continue
		}
		if err := setField(v.Field(i), ctx, name); err != nil {
			return fmt.Errorf("failed to set field %s: %w", field.Name, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, ctx *cli.Context, flag string) error {
	switch fv.Type() {
	case durationType:
		fv.SetInt(int64(ctx.Duration(flag)))
		return nil
	case addressType:
		s := ctx.String(flag)
		if !common.IsHexAddress(s) {
			return fmt.Errorf("invalid address: %s", s)
		}
		fv.Set(reflect.ValueOf(common.HexToAddress(s)))
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(ctx.String(flag))
	case reflect.Bool:
		fv.SetBool(ctx.Bool(flag))
	case reflect.Int, reflect.Int64:
		fv.SetInt(int64(ctx.Int(flag)))
	case reflect.Uint, reflect.Uint64:
		fv.SetUint(ctx.Uint64(flag))
	default:
		if u, ok := fv.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(ctx.String(flag)))
		}
		return fmt.Errorf("unsupported type: %v", fv.Type())
	}
	return nil
}
