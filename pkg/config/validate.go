// Copyright 2025 The FlowerPower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	fperrors "github.com/legout/flowerpower/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	executorTypes = map[string]struct{}{
		ExecutorSynchronous: {},
		ExecutorThreadpool:  {},
		ExecutorProcesspool: {},
		ExecutorRay:         {},
		ExecutorDask:        {},
	}
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("executor_type", func(fl validator.FieldLevel) bool {
			_, ok := executorTypes[fl.Field().String()]
			return ok
		})

		validateInst = v
	})
	return validateInst
}

// validateStruct runs tag validation and converts the first failure into a
// ConfigError with a dotted key path.
func validateStruct(v any) error {
	if err := validatorInstance().Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if ok := asInvalid(err, &invalid); ok {
			return &fperrors.ConfigError{Reason: "configuration is not validatable", Cause: err}
		}
		for _, fe := range err.(validator.ValidationErrors) {
			return &fperrors.ConfigError{
				Key:    fieldPath(fe),
				Reason: fmt.Sprintf("failed %q validation (value %v)", fe.Tag(), fe.Value()),
			}
		}
	}
	return nil
}

func asInvalid(err error, target **validator.InvalidValidationError) bool {
	inv, ok := err.(*validator.InvalidValidationError)
	if ok {
		*target = inv
	}
	return ok
}

// fieldPath lowers a validator namespace like "RunConfig.Executor.MaxWorkers"
// into the config key style "executor.max_workers".
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = toSnake(part)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
