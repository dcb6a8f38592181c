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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrMessageNotFound("m-1")
	wrapped := errors.Wrap(err, "failed to delete message")
	s.ErrorIs(wrapped, ErrMessageNotFound)
	s.Equal(Code(ErrMessageNotFound), Code(wrapped))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newPrivchatError("new error", ErrMessageNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrMessageNotFound))
}

func (s *ErrSuite) TestWrap() {
	// Service related
	s.ErrorIs(WrapErrServiceNotReady("initializing"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceUnavailable("store down", "open"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrTooManyRequests(100, "too many requests"), ErrServiceTooManyRequests)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)

	// Parameter related
	s.ErrorIs(WrapErrParameterInvalid("non-empty", "", "username"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("field %s", "to"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("username"), ErrParameterMissing)
	s.ErrorIs(WrapErrParameterTooLarge("text", 4096), ErrParameterTooLarge)

	// Protocol related
	s.ErrorIs(WrapErrProtocolMalformed("join", errors.New("bad json")), ErrProtocolMalformed)
	s.ErrorIs(WrapErrProtocolUnknownEvent("typing"), ErrProtocolUnknownEvent)
	s.ErrorIs(WrapErrProtocolVersion("3.0.0", ">=1.0.0 <2.0.0"), ErrProtocolVersion)

	// Store related
	s.ErrorIs(WrapErrStoreFailed("insert", errors.New("disk full")), ErrStoreFailed)
	s.ErrorIs(WrapErrMessageNotFound("m-1"), ErrMessageNotFound)
	s.ErrorIs(WrapErrUserNotFound("alice"), ErrUserNotFound)

	// Session related
	s.ErrorIs(WrapErrSessionQueueFull(7, "privateMessage"), ErrSessionQueueFull)
	s.ErrorIs(WrapErrSessionClosed(7), ErrSessionClosed)
}

func (s *ErrSuite) TestWrapFieldsMessage() {
	err := WrapErrProtocolUnknownEvent("typing")
	s.Equal("unknown event[event=typing]", err.Error())

	err = WrapErrStoreFailed("insert", errors.New("disk full"))
	s.Equal("store operation failed[op=insert]: disk full", err.Error())
}

func (s *ErrSuite) TestErrorType() {
	s.Equal(InputError, GetErrorType(WrapErrProtocolMalformed("join", nil)))
	s.Equal(InputError, GetErrorType(errors.Wrap(WrapErrParameterMissing("to"), "privateMessage")))
	s.Equal(SystemError, GetErrorType(WrapErrStoreFailed("insert", nil)))
	s.Equal(SystemError, GetErrorType(errors.New("plain")))

	s.True(IsInputError(WrapErrAsInputError(ErrServiceInternal)))
	s.False(IsInputError(nil))
	s.Equal("input_error", InputError.String())
}

func (s *ErrSuite) TestMessage() {
	s.Equal("", Message(nil))
	s.Equal("unknown event[event=x]", Message(WrapErrProtocolUnknownEvent("x")))
	s.Equal("service internal error", Message(WrapErrStoreFailed("insert", errors.New("secret dsn"))))
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(WrapErrStoreFailed("insert", nil)))
	s.True(IsRetryableErr(errors.Wrap(WrapErrSessionQueueFull(1, "x"), "send")))
	s.False(IsRetryableErr(WrapErrMessageNotFound("m")))
	s.False(IsRetryableErr(errors.New("plain")))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.Canceled, "ctx")))
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
	s.Nil(Combine(nil, nil))

	err = Combine(errFirst, ErrUserNotFound)
	s.Equal(Code(ErrUserNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
