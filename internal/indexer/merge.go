package indexer

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// coverCandidateKeys lists the detail payload keys that may carry a cover
// URL, in preference order. First non-empty wins.
var coverCandidateKeys = []string{
	"featured_image",
	"image_url",
	"cover",
	"image",
	"banner",
}

// statusLabels maps upstream numeric status codes to display labels.
var statusLabels = map[int]string{
	1: "Ongoing",
	2: "Completed",
	3: "On Hold",
	4: "Abandoned",
}

// MergeDetails applies a detail payload to a record. Present values win over
// prior ones; absent or malformed values leave the prior field untouched.
// Parse failures are field-scoped and never abort the merge. The record's
// enrichment stamp is always set, so a merged record leaves the pending
// candidate set.
func MergeDetails(rec *GameRecord, details DetailPayload, fastCheckTS int64, now time.Time, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if v := stringField(details, "version"); v != "" {
		rec.Version = v
	}
	if name := stringField(details, "name"); name != "" && rec.Name == "" {
		rec.Name = name
	}

	mergeStatus(rec, details)

	if code, ok := intField(details, "type"); ok {
		rec.EngineCode = &code
	}
	if rating, ok := floatField(details, "score"); ok {
		rec.Rating = &rating
	} else if rating, ok := floatField(details, "rating"); ok {
		rec.Rating = &rating
	}
	if likes, ok := intField(details, "likes"); ok {
		rec.Likes = &likes
	} else if likes, ok := intField(details, "votes"); ok {
		rec.Likes = &likes
	}

	mergeRemoteUpdatedAt(rec, details, fastCheckTS, logger)

	if raw, ok := details["tags"]; ok && !isJSONNull(raw) {
		rec.TagsJSON = string(raw)
	}
	if cover := FirstCoverURL(details); cover != "" {
		rec.CoverURL = cover
	}

	rec.DetailsJSON = shallowMerge(rec.DetailsJSON, details)
	rec.LastEnrichedAt = &now
	rec.LastTouchedAt = now
}

func mergeStatus(rec *GameRecord, details DetailPayload) {
	raw, ok := details["status"]
	if !ok || isJSONNull(raw) {
		return
	}
	if code, ok := intField(details, "status"); ok {
		rec.StatusCode = &code
		if label, known := statusLabels[code]; known {
			rec.StatusLabel = label
		}
		return
	}
	if label := stringField(details, "status"); label != "" {
		rec.StatusLabel = label
	}
}

// mergeRemoteUpdatedAt prefers the payload's authoritative timestamp over
// the fast-check one. A present but unparseable value falls back to the
// fast-check timestamp with a warning; the merge never fails on it.
func mergeRemoteUpdatedAt(rec *GameRecord, details DetailPayload, fastCheckTS int64, logger *zap.Logger) {
	if raw, ok := details["last_updated"]; ok && !isJSONNull(raw) {
		if ts, ok := parseEpoch(raw); ok {
			at := time.Unix(ts, 0).UTC()
			rec.RemoteUpdatedAt = &at
			return
		}
		logger.Warn("unparseable last_updated in detail payload, falling back to fast-check timestamp",
			zap.Int64("id", rec.ID),
			zap.String("value", string(raw)),
		)
	}
	if fastCheckTS > 0 {
		at := time.Unix(fastCheckTS, 0).UTC()
		rec.RemoteUpdatedAt = &at
	}
}

// FirstCoverURL returns the first non-empty cover candidate in the payload.
func FirstCoverURL(details DetailPayload) string {
	for _, key := range coverCandidateKeys {
		if v := stringField(details, key); v != "" {
			return v
		}
	}
	return ""
}

// shallowMerge overlays the payload's top-level keys onto the stored blob.
// Keys absent from the new payload survive, preserving historical fields
// across successive partial enrichments. An unreadable stored blob is
// discarded rather than failing the merge.
func shallowMerge(storedJSON string, details DetailPayload) string {
	merged := map[string]json.RawMessage{}
	if storedJSON != "" {
		// Best effort; a corrupt blob starts fresh.
		_ = json.Unmarshal([]byte(storedJSON), &merged)
	}
	for k, v := range details {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return storedJSON
	}
	return string(out)
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func stringField(details DetailPayload, key string) string {
	raw, ok := details[key]
	if !ok || isJSONNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// intField reads a numeric field that upstream may encode as either a JSON
// number or a numeric string.
func intField(details DetailPayload, key string) (int, bool) {
	raw, ok := details[key]
	if !ok || isJSONNull(raw) {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatField(details DetailPayload, key string) (float64, bool) {
	raw, ok := details[key]
	if !ok || isJSONNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func parseEpoch(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
