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

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dump triggers one hardware counter dump and delivers the calling
// client's accumulated view to its destination.
//
// Every non-pending client's accumulation buffer absorbs the dump; the
// caller's buffer is then copied out and zeroed, so its next accumulation
// starts fresh. A destination copy fault leaves the accumulation buffer
// intact. If a reprogram is owed, it runs after delivery; a reprogram
// failure is reported to the caller but the already delivered dump
// stands.
func (ctx *Context) Dump(cli *Client) error {
	if cli == nil {
		return ErrInvalidClient
	}

	ctx.lock.Lock()
	defer ctx.lock.Unlock()

	if err := ctx.hardwareDump(); err != nil {
		return err
	}

	if ctx.config.PlatformBypass && len(ctx.clients) == 1 {
		// Vendor fast path: the lone client consumes the raw dump
		// elsewhere. Accumulation, delivery and the reprogram check are
		// all skipped.
		return nil
	}

	ctx.accumulateClients()

	if err := cli.deliver(); err != nil {
		return err
	}
	cli.resetAccum()

	return ctx.reprogramIfNeeded()
}

// Clear discards the calling client's accumulated history without
// reading it out: the hardware counters are dumped (so other clients
// don't lose the values), then cleared, and only the caller's
// accumulation buffer is zeroed.
func (ctx *Context) Clear(cli *Client) error {
	if cli == nil {
		return ErrInvalidClient
	}

	ctx.lock.Lock()
	defer ctx.lock.Unlock()

	if err := ctx.hardwareDump(); err != nil {
		return err
	}
	if err := ctx.oracle.ClearCounters(); err != nil {
		return errors.Wrapf(err, "clear hardware counters")
	}

	ctx.accumulateClients()
	cli.resetAccum()

	return ctx.reprogramIfNeeded()
}

// hardwareDump runs one trigger/wait round trip. No context state is
// mutated before the wait resolves, so a timeout leaves everything
// consistent for a retry.
func (ctx *Context) hardwareDump() error {
	if err := ctx.oracle.TriggerDump(); err != nil {
		return errors.Wrapf(ErrTimeout, "trigger dump: %v", err)
	}
	if err := ctx.oracle.WaitForDump(); err != nil {
		return errors.Wrapf(ErrTimeout, "wait for dump: %v", err)
	}
	return nil
}

// accumulateClients folds the shared dump buffer into every non-pending
// client's accumulation buffer. Pending clients are skipped: their
// requested counters are not yet live in the hardware program, so the
// buffer contents would taint their view.
func (ctx *Context) accumulateClients() {
	src := ctx.region.CPU
	for _, c := range ctx.clients {
		if c.pending {
			continue
		}
		c.patchHeaders(src, ctx.blocks)
		c.accumulate(src)
	}
}

// reprogramIfNeeded restarts the counter block with the current superset
// mask when the attached client set has changed since the last program.
// On success every pending client becomes live: the new program covers
// everyone who was waiting.
func (ctx *Context) reprogramIfNeeded() error {
	if !ctx.reprogram {
		return nil
	}

	ctx.oracle.Disable()
	if err := ctx.enable(); err != nil {
		klog.Warningf("Failed to reprogram hwcnt block with masks %v: %v", ctx.masks, err)
		return errors.Wrapf(err, "reprogram hardware counters")
	}

	ctx.reprogram = false
	for _, c := range ctx.clients {
		c.pending = false
	}
	klog.V(4).Infof("Reprogrammed hwcnt block with masks %v", ctx.masks)
	return nil
}
