// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case privchatError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(privchatError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(privchatError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

// GetErrorType 返回错误链根因上的 ErrorType，非 privchatError 一律视为系统错误。
func GetErrorType(err error) ErrorType {
	if merr, ok := errors.Cause(err).(privchatError); ok {
		return merr.errType
	}

	return SystemError
}

func IsInputError(err error) bool {
	return err != nil && GetErrorType(err) == InputError
}

// Message 返回可以安全回送给客户端的错误描述。
//
// 系统错误只返回通用描述，避免把存储层细节暴露给对端。
func Message(err error) string {
	if err == nil {
		return ""
	}
	if IsInputError(err) {
		return err.Error()
	}
	return ErrServiceInternal.msg
}

// Service related
func WrapErrServiceNotReady(state string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceNotReady, state)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceUnavailable, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTooManyRequests(limit int32, msg ...string) error {
	err := wrapFields(ErrServiceTooManyRequests,
		value("limit", limit),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Parameter related
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmtMsg string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmtMsg, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterTooLarge(name string, limit int, msg ...string) error {
	err := wrapFields(ErrParameterTooLarge,
		value(name, limit),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Protocol related
func WrapErrProtocolMalformed(event string, cause error) error {
	desc := "empty payload"
	if cause != nil {
		desc = cause.Error()
	}
	return wrapFieldsWithDesc(ErrProtocolMalformed, desc, value("event", event))
}

func WrapErrProtocolUnknownEvent(event string) error {
	return wrapFields(ErrProtocolUnknownEvent, value("event", event))
}

func WrapErrProtocolVersion(version, constraint string) error {
	return wrapFields(ErrProtocolVersion,
		value("version", version),
		value("supported", constraint),
	)
}

// Store related
func WrapErrStoreFailed(op string, cause error, msg ...string) error {
	desc := ""
	if cause != nil {
		desc = cause.Error()
	}
	err := wrapFieldsWithDesc(ErrStoreFailed, desc, value("op", op))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMessageNotFound(id string) error {
	return wrapFields(ErrMessageNotFound, value("id", id))
}

func WrapErrUserNotFound(username string) error {
	return wrapFields(ErrUserNotFound, value("username", username))
}

// Session related
func WrapErrSessionQueueFull(sessionID uint64, event string) error {
	return wrapFields(ErrSessionQueueFull,
		value("session", sessionID),
		value("event", event),
	)
}

func WrapErrSessionClosed(sessionID uint64) error {
	return wrapFields(ErrSessionClosed, value("session", sessionID))
}

func wrapFields(err privchatError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err privchatError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	if desc != "" {
		err.msg += ": " + desc
	}
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
