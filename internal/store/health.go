package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/vector/qdrant"
	"github.com/tobyh/toolvault/pkg/models"
)

// Health thresholds driving the needs_reindex decision.
const (
	// maxFragmentation is the fragmentation above which a reindex is due.
	maxFragmentation = 0.20
	// minCoverage is the index coverage below which a reindex is due.
	minCoverage = 0.80
	// growthFactor flags a reindex when the collection grows past this
	// multiple of its size at the last reindex.
	growthFactor = 1.5
	// rebuildGrowthFactor escalates to a complete rebuild.
	rebuildGrowthFactor = 2.0
	// rebuildFragmentation escalates to a complete rebuild.
	rebuildFragmentation = 0.50
	// maxIndexAge forces a reindex when the index is older than this.
	maxIndexAge = 24 * time.Hour
)

// Reindex strategies.
const (
	StrategyStandard = "standard"
	StrategyRebuild  = "complete_rebuild"
	StrategyOptimize = "optimize"
)

// profileSettings are the optimizer defaults bundled by an optimization
// profile name.
type profileSettings struct {
	indexingThreshold int
	segmentNumber     int
	vectorsOnDisk     bool
}

func settingsForProfile(profile string) profileSettings {
	switch profile {
	case config.ProfileLowLatency:
		return profileSettings{indexingThreshold: 1000, segmentNumber: 2, vectorsOnDisk: false}
	case config.ProfileLargeScale:
		return profileSettings{indexingThreshold: 50000, segmentNumber: 8, vectorsOnDisk: true}
	default:
		return profileSettings{indexingThreshold: 20000, segmentNumber: 4, vectorsOnDisk: false}
	}
}

// payloadIndexes is the per-field index configuration for tool-response
// collections. Tenant keys get colocating keyword indexes kept
// memory-resident; the timestamp field is the principal range index;
// secondary performance fields go to disk since access is infrequent.
var payloadIndexes = []struct {
	field  string
	schema qdrant.FieldSchema
}{
	{"user_identifier", qdrant.FieldSchema{Type: "keyword", Tenant: true}},
	{"session_identifier", qdrant.FieldSchema{Type: "keyword"}},
	{"tool_name", qdrant.FieldSchema{Type: "keyword"}},
	{"timestamp", qdrant.FieldSchema{Type: "datetime", Principal: true, RangeOnly: true}},
	{"execution_time_ms", qdrant.FieldSchema{Type: "integer", RangeOnly: true, OnDisk: true}},
}

// ensureCollection creates the default collection and its payload indexes on
// first write. Subsequent calls are free; a failed attempt is retried by the
// next write.
func (m *Manager) ensureCollection(ctx context.Context, client *qdrant.Client, dimensions int) error {
	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()
	if m.ensured {
		return nil
	}

	exists, err := client.CollectionExists(ctx, m.collection)
	if err != nil {
		return err
	}
	if exists {
		m.ensured = true
		return nil
	}

	profile := settingsForProfile(config.Get().Profile)
	err = client.CreateCollection(ctx, m.collection, qdrant.CreateCollectionOptions{
		VectorSize:        dimensions,
		Distance:          "Cosine",
		OnDisk:            profile.vectorsOnDisk,
		IndexingThreshold: profile.indexingThreshold,
		SegmentNumber:     profile.segmentNumber,
	})
	if err != nil {
		return err
	}

	for _, idx := range payloadIndexes {
		if err := client.CreatePayloadIndex(ctx, m.collection, idx.field, idx.schema); err != nil {
			log.Warn().Err(err).Str("field", idx.field).Msg("Failed to create payload index")
		}
	}

	m.mu.Lock()
	m.lastReindexAt = time.Now()
	m.mu.Unlock()

	log.Info().
		Str("collection", m.collection).
		Int("dimensions", dimensions).
		Msg("Created collection")
	m.ensured = true
	return nil
}

// CollectionInfos lists collections with their point and index counts.
// Collections that disappear between the list and detail calls are skipped.
func (m *Manager) CollectionInfos(ctx context.Context) ([]models.CollectionInfo, error) {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	names, err := client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]models.CollectionInfo, 0, len(names))
	for _, name := range names {
		detail, err := client.GetCollection(ctx, name)
		if err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("Failed to describe collection")
			continue
		}
		infos = append(infos, models.CollectionInfo{
			Name:           name,
			DistanceMetric: detail.Distance,
			VectorSize:     detail.VectorSize,
			PointCount:     detail.PointsCount,
			IndexedCount:   detail.IndexedVectorsCount,
		})
	}
	return infos, nil
}

// AnalyzeHealth computes a point-in-time health snapshot for the default
// collection.
func (m *Manager) AnalyzeHealth(ctx context.Context) (*models.HealthSnapshot, error) {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	detail, err := client.GetCollection(ctx, m.collection)
	if err != nil {
		return nil, fmt.Errorf("collection info: %w", err)
	}

	snapshot := &models.HealthSnapshot{
		CheckedAt:     time.Now(),
		TotalPoints:   detail.PointsCount,
		IndexedPoints: detail.IndexedVectorsCount,
	}

	if detail.PointsCount > 0 {
		snapshot.Coverage = float64(detail.IndexedVectorsCount) / float64(detail.PointsCount)
		snapshot.Fragmentation = 1 - snapshot.Coverage
	} else {
		snapshot.Coverage = 1
		snapshot.Fragmentation = 0
	}
	snapshot.HealthScore = healthScore(snapshot.Fragmentation, snapshot.Coverage)

	m.mu.Lock()
	lastAt, lastCount := m.lastReindexAt, m.lastReindexCount
	m.mu.Unlock()

	if snapshot.Fragmentation > maxFragmentation {
		snapshot.Reasons = append(snapshot.Reasons,
			fmt.Sprintf("fragmentation %.2f exceeds %.2f", snapshot.Fragmentation, maxFragmentation))
	}
	if snapshot.Coverage < minCoverage {
		snapshot.Reasons = append(snapshot.Reasons,
			fmt.Sprintf("coverage %.2f below %.2f", snapshot.Coverage, minCoverage))
	}
	if lastCount > 0 && float64(detail.PointsCount) >= growthFactor*float64(lastCount) {
		snapshot.Reasons = append(snapshot.Reasons,
			fmt.Sprintf("grown from %d to %d points since last reindex", lastCount, detail.PointsCount))
	}
	if !lastAt.IsZero() && time.Since(lastAt) > maxIndexAge {
		snapshot.Reasons = append(snapshot.Reasons,
			fmt.Sprintf("index older than %s", maxIndexAge))
	}
	snapshot.NeedsReindex = len(snapshot.Reasons) > 0

	return snapshot, nil
}

// healthScore combines fragmentation and coverage into one score in [0, 1].
// An equal-weight combination: non-increasing in fragmentation and
// non-decreasing in coverage.
func healthScore(fragmentation, coverage float64) float64 {
	return 0.5*coverage + 0.5*(1-fragmentation)
}

// ChooseStrategy selects the reindex strategy for a snapshot. Forced
// requests, high fragmentation and large growth get a complete rebuild;
// moderate coverage gaps get the standard strategy; healthy collections get
// a light optimization pass.
func (m *Manager) ChooseStrategy(snapshot *models.HealthSnapshot, force bool) string {
	m.mu.Lock()
	lastCount := m.lastReindexCount
	m.mu.Unlock()

	largeGrowth := lastCount > 0 &&
		float64(snapshot.TotalPoints) >= rebuildGrowthFactor*float64(lastCount)

	switch {
	case force, snapshot.Fragmentation > rebuildFragmentation, largeGrowth:
		return StrategyRebuild
	case snapshot.NeedsReindex:
		return StrategyStandard
	default:
		return StrategyOptimize
	}
}

// Reindex executes the chosen strategy against the default collection and
// updates the last-reindex markers.
func (m *Manager) Reindex(ctx context.Context, strategy string) error {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return err
	}
	profile := settingsForProfile(config.Get().Profile)

	start := time.Now()
	switch strategy {
	case StrategyRebuild:
		// Recreate indexes with current thresholds and consolidate segments.
		for _, idx := range payloadIndexes {
			if err := client.DeletePayloadIndex(ctx, m.collection, idx.field); err != nil {
				log.Warn().Err(err).Str("field", idx.field).Msg("Failed to drop payload index")
			}
		}
		for _, idx := range payloadIndexes {
			if err := client.CreatePayloadIndex(ctx, m.collection, idx.field, idx.schema); err != nil {
				return fmt.Errorf("recreate index %s: %w", idx.field, err)
			}
		}
		if err := client.UpdateOptimizers(ctx, m.collection, profile.indexingThreshold, profile.segmentNumber); err != nil {
			return fmt.Errorf("update optimizers: %w", err)
		}
	case StrategyStandard:
		// Rebuild/verify named-field indexes in place.
		for _, idx := range payloadIndexes {
			if err := client.CreatePayloadIndex(ctx, m.collection, idx.field, idx.schema); err != nil {
				return fmt.Errorf("ensure index %s: %w", idx.field, err)
			}
		}
	default:
		// Light optimization: nudge the optimizer, nothing else.
		if err := client.UpdateOptimizers(ctx, m.collection, profile.indexingThreshold, profile.segmentNumber); err != nil {
			log.Debug().Err(err).Msg("Optimizer touch failed")
		}
	}

	detail, err := client.GetCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("post-reindex info: %w", err)
	}

	m.mu.Lock()
	m.lastReindexAt = time.Now()
	m.lastReindexCount = detail.PointsCount
	m.mu.Unlock()

	log.Info().
		Str("strategy", strategy).
		Int64("points", detail.PointsCount).
		Dur("took", time.Since(start)).
		Msg("Reindex complete")
	return nil
}

// Cleanup deletes records older than the given age from the default
// collection and returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	client, err := m.conn.Client(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
	filter := (&qdrant.Filter{}).RangeLt("timestamp", cutoff)

	count, err := client.DeleteByFilter(ctx, m.collection, filter)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	if count > 0 {
		log.Info().Int64("removed", count).Str("cutoff", cutoff).Msg("Retention cleanup")
	}
	return count, nil
}
