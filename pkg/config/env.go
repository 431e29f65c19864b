/*
 * Copyright 2026 GridSense Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads service configuration from environment variables.
// Struct fields are mapped through their `json` tags: a field tagged
// `batch_size` reads BATCH_SIZE, and nested structs prefix their children
// (DATABASE_HOST maps to cfg.Database.Host).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	ErrDstMustBeNonNilPointer   = errors.New("dst must be a non-nil pointer")
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

// FromEnv populates dst from environment variables, optionally applying a
// prefix to every variable name.
func FromEnv(dst interface{}, prefix string) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	return loadStruct(v, prefix)
}

func loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}

		name := strings.Split(tag, ",")[0]
		envName := prefix + strings.ToUpper(name)

		if err := setField(field, envName); err != nil {
			return err
		}
	}

	return nil
}

func setField(field reflect.Value, envName string) error {
	// Nested structs recurse with the field name as prefix.
	if field.Kind() == reflect.Struct {
		return loadStruct(field, envName+"_")
	}

	if field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		return loadStruct(field.Elem(), envName+"_")
	}

	value := os.Getenv(envName)
	if value == "" {
		return nil
	}

	return setScalar(field, envName, value)
}

func setScalar(field reflect.Value, envName, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", envName, err)
		}

		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value for %s: %w", envName, err)
			}

			field.SetInt(int64(d))

			return nil
		}

		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", envName, err)
		}

		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value for %s: %w", envName, err)
		}

		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", envName, err)
		}

		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))

			for i, p := range parts {
				slice.Index(i).SetString(strings.TrimSpace(p))
			}

			field.Set(slice)

			return nil
		}

		fallthrough

	default:
		// Maps and anything else fall back to JSON decoding.
		if err := json.Unmarshal([]byte(value), field.Addr().Interface()); err != nil {
			return fmt.Errorf("unsupported value for %s: %w", envName, err)
		}
	}

	return nil
}
