// Copyright 2024 The hwcnt Authors. All Rights Reserved.
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

package hwcnt

import "errors"

var (
	// ErrAllocation means a context, dump region or buffer could not be
	// allocated. The triggering call is fully rolled back; retrying
	// later is safe.
	ErrAllocation = errors.New("hwcnt: allocation failed")

	// ErrTimeout means the hardware did not complete a dump within the
	// driver's bound. Context state is unchanged; retrying is safe.
	ErrTimeout = errors.New("hwcnt: hardware dump timed out")

	// ErrCopyFault means the client's destination memory was invalid or
	// inaccessible. The accumulation buffer is kept intact so no data
	// is lost; the client may retry the dump.
	ErrCopyFault = errors.New("hwcnt: destination copy faulted")

	// ErrInvalidClient means the client handle was nil or the attach
	// request was malformed.
	ErrInvalidClient = errors.New("hwcnt: invalid client")
)
