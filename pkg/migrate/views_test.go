// Copyright 2022 Intel Corporation. All Rights Reserved.
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


package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

func TestViews(t *testing.T) {
	views := Views()
	require.NoError(t, view.Register(views...))
	defer view.Unregister(views...)

	start := 0x8000 * PageSize
	f := newPartitionerFixture(t, 1024, Region{Name: "heap", Start: start, End: start + 128*PageSize})
	require.NoError(t, f.part.Migrate(context.Background(), f.engine, start, 100))

	rows, err := view.RetrieveData("migrate_batch_pages")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []tag.Tag{{Key: KeyTarget, Value: "cdm0"}}, rows[0].Tags)

	data, ok := rows[0].Data.(*view.DistributionData)
	require.True(t, ok, "unexpected aggregation %T", rows[0].Data)
	require.Equal(t, int64(2), data.Count)
	require.InDelta(t, 100.0, data.Mean*float64(data.Count), 0.001)

	rows, err = view.RetrieveData("migrate_batch_latency")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].Data.(*view.DistributionData).Count)
}
