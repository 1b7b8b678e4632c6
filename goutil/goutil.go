package goutil

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Coalesce like lo.Coalesce, but without the second return value
func Coalesce[T comparable](v ...T) T {
	res, _ := lo.Coalesce(v...)
	return res
}

// NonEmptyFilter to be used with lo.Filter
func NonEmptyFilter[T comparable](t T, _ int) bool {
	return t != lo.Empty[T]()
}

func ValidateStructFieldsAreNotZero(s any, fields ...string) error {
	errorStrings := []string{}
	v := reflect.ValueOf(s).Elem()
	for _, f := range fields {
		if v.FieldByName(f).IsZero() {
			errorStrings = append(errorStrings, fmt.Sprintf("%s is missing", f))
		}
	}
	if len(errorStrings) == 0 {
		return nil
	}
	return errors.New(strings.Join(errorStrings, ", "))
}
