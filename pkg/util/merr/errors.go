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
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// ErrorType 区分错误来源：系统内部错误或调用方输入错误。
//
// 说明：
//   - 输入错误会被回送给发起请求的会话（例如 "error" 事件或 HTTP 4xx）；
//   - 系统错误只记录日志，不向客户端暴露细节。
type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

var (
	// Service related
	ErrServiceNotReady        = newPrivchatError("service not ready", 1, true)
	ErrServiceUnavailable     = newPrivchatError("service unavailable", 2, true)
	ErrServiceTooManyRequests = newPrivchatError("too many concurrent requests, queue is full", 4, true)
	ErrServiceInternal        = newPrivchatError("service internal error", 5, false)

	// Parameter related
	ErrParameterInvalid  = newPrivchatError("invalid parameter", 1100, false, WithErrorType(InputError))
	ErrParameterMissing  = newPrivchatError("missing parameter", 1101, false, WithErrorType(InputError))
	ErrParameterTooLarge = newPrivchatError("parameter too large", 1102, false, WithErrorType(InputError))

	// Protocol related
	ErrProtocolMalformed    = newPrivchatError("malformed payload", 1300, false, WithErrorType(InputError))
	ErrProtocolUnknownEvent = newPrivchatError("unknown event", 1301, false, WithErrorType(InputError))
	ErrProtocolVersion      = newPrivchatError("unsupported protocol version", 1302, false, WithErrorType(InputError))

	// Store related
	ErrStoreFailed     = newPrivchatError("store operation failed", 1400, true)
	ErrMessageNotFound = newPrivchatError("message not found", 1401, false)
	ErrUserNotFound    = newPrivchatError("user not found", 1402, false)
	ErrStoreClosed     = newPrivchatError("store closed", 1403, false)

	// Session related
	ErrSessionQueueFull = newPrivchatError("session send queue full", 1500, true)
	ErrSessionClosed    = newPrivchatError("session closed", 1501, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to privchatError
	errUnexpected = newPrivchatError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*privchatError)

func WithDetail(detail string) errorOption {
	return func(err *privchatError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *privchatError) {
		err.errType = etype
	}
}

type privchatError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newPrivchatError(msg string, code int32, retriable bool, options ...errorOption) privchatError {
	err := privchatError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e privchatError) code() int32 {
	return e.errCode
}

func (e privchatError) Error() string {
	return e.msg
}

func (e privchatError) Detail() string {
	return e.detail
}

func (e privchatError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(privchatError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多个错误的 cause 定义为最后一个错误，保证 errors.Cause 能拿到 privchatError。
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
