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
	"time"

	ocstats "go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// MeasureBatchLatency is the time it takes to migrate a batch.
	MeasureBatchLatency = ocstats.Float64("migrate/batch_latency",
		"Latency of migrating a batch of pages", ocstats.UnitMilliseconds)
	// MeasureBatchPages is the number of pages committed in a batch.
	MeasureBatchPages = ocstats.Int64("migrate/batch_pages",
		"Pages committed per batch", ocstats.UnitDimensionless)

	// KeyTarget tags measurements with the migration target.
	KeyTarget = tag.MustNewKey("target")
)

// Views returns the OpenCensus views of batch migration.
func Views() []*view.View {
	return []*view.View{
		{
			Name:        "migrate_batch_latency",
			Description: "Distribution of batch migration latency",
			Measure:     MeasureBatchLatency,
			TagKeys:     []tag.Key{KeyTarget},
			Aggregation: view.Distribution(0.1, 0.5, 1, 5, 10, 50, 100, 500),
		},
		{
			Name:        "migrate_batch_pages",
			Description: "Distribution of pages committed per batch",
			Measure:     MeasureBatchPages,
			TagKeys:     []tag.Key{KeyTarget},
			Aggregation: view.Distribution(0, 1, 8, 16, 32, 64, 128, 512),
		},
	}
}

// recordBatch records the measurements of a finalized batch.
func recordBatch(ctx context.Context, target string, latency time.Duration, t Tally) {
	err := ocstats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyTarget, target)},
		MeasureBatchLatency.M(float64(latency)/float64(time.Millisecond)),
		MeasureBatchPages.M(int64(t.Migrated)),
	)
	if err != nil {
		log.Warn("failed to record batch measurements: %v", err)
	}
}
