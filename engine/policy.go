package engine

import (
	"strconv"
	"strings"

	"github.com/vktsdb/tsengine/agg"
	"github.com/vktsdb/tsengine/cmn/cerr"
)

// compactionPolicy is one parsed entry of compaction_policy_config:
// "agg:bucket:retention[:align]|regex_filter" (spec §6).
type compactionPolicy struct {
	aggKind     agg.Kind
	bucketMS    int64
	retentionMS int64
	align       int64
	filter      string
}

// parseCompactionPolicies parses the ';'-separated entries of
// compaction_policy_config. An empty string yields no policies.
func parseCompactionPolicies(raw string) ([]compactionPolicy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	entries := strings.Split(raw, ";")
	out := make([]compactionPolicy, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		p, err := parseCompactionPolicy(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseCompactionPolicy(entry string) (compactionPolicy, error) {
	body, filter, _ := strings.Cut(entry, "|")
	fields := strings.Split(body, ":")
	if len(fields) < 3 || len(fields) > 4 {
		return compactionPolicy{}, cerr.New(cerr.InvalidArgument, "engine.parseCompactionPolicy",
			"malformed compaction policy entry: "+entry)
	}

	kind, err := agg.ParseKind(fields[0])
	if err != nil {
		return compactionPolicy{}, cerr.Wrap(cerr.InvalidAggregation, "engine.parseCompactionPolicy",
			"bad aggregation in entry: "+entry, err)
	}
	bucketMS, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return compactionPolicy{}, cerr.Wrap(cerr.InvalidArgument, "engine.parseCompactionPolicy",
			"bad bucket duration in entry: "+entry, err)
	}
	retentionMS, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return compactionPolicy{}, cerr.Wrap(cerr.InvalidArgument, "engine.parseCompactionPolicy",
			"bad retention in entry: "+entry, err)
	}

	var align int64
	if len(fields) == 4 {
		align, err = strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return compactionPolicy{}, cerr.Wrap(cerr.InvalidAlignment, "engine.parseCompactionPolicy",
				"bad alignment in entry: "+entry, err)
		}
	}

	return compactionPolicy{
		aggKind:     kind,
		bucketMS:    bucketMS,
		retentionMS: retentionMS,
		align:       align,
		filter:      filter,
	}, nil
}
