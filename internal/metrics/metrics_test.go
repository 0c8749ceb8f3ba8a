// Copyright 2025 Tom Barlow
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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Collectors are process-global, so the tests assert deltas.

func TestRecordStageAttempt(t *testing.T) {
	counter := stageAttempts.WithLabelValues("3", "completed")
	before := testutil.ToFloat64(counter)

	RecordStageAttempt("3", "completed", 1200)
	RecordStageAttempt("3", "completed", 800)

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("attempts delta = %v, want 2", got)
	}

	histCount := testutil.CollectAndCount(stageDuration)
	if histCount == 0 {
		t.Error("duration histogram recorded no series")
	}
}

func TestRecordLockContention(t *testing.T) {
	before := testutil.ToFloat64(lockContention)
	RecordLockContention()
	if got := testutil.ToFloat64(lockContention) - before; got != 1 {
		t.Errorf("contention delta = %v, want 1", got)
	}
}

func TestRecordStoreError(t *testing.T) {
	counter := storeErrors.WithLabelValues("createRun")
	before := testutil.ToFloat64(counter)
	RecordStoreError("createRun")
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("store error delta = %v, want 1", got)
	}
}
