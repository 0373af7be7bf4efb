// Package catalog builds and caches the slim model catalog derived from the
// host's node introspection data.
package catalog

import (
	"sort"
	"strings"
	"time"

	"github.com/flowlite/sidecar/internal/comfy"
)

// Model category names. "all" aggregates every model-file input; the others
// are the recognized sub-categories.
const (
	CategoryAll  = "all"
	CategoryCkpt = "ckpt"
	CategoryUnet = "unet"
)

// Input-key classification table. Keys not listed here never contribute to a
// category; node types unknown to the table are simply skipped.
var (
	allModelKeys = []string{"unet_name", "ckpt_name", "model_name"}
	ckptKeys     = []string{"ckpt_name", "model_name"}
	unetKeys     = []string{"unet_name"}
	vaeKeys      = []string{"vae_name", "vae"}
	samplerKeys  = []string{"sampler_name"}
	schedulerKey = []string{"scheduler"}
)

// DebugEntry records one node/input combination that contributed choices.
type DebugEntry struct {
	Node   string   `json:"node"`
	Key    string   `json:"key"`
	Count  int      `json:"count"`
	Sample []string `json:"sample"`
}

// Snapshot is one immutable, fully-computed catalog. Replaced wholesale on
// refresh, never mutated.
type Snapshot struct {
	Timestamp  float64             `json:"ts"`
	Models     map[string][]string `json:"models"`
	Loras      []string            `json:"loras"`
	VAE        []string            `json:"vae"`
	Samplers   []string            `json:"samplers"`
	Schedulers []string            `json:"schedulers"`
	Debug      []DebugEntry        `json:"debug,omitempty"`
}

// Build classifies introspection data into a snapshot. When debug is true the
// snapshot carries per-category contribution records; the categorized fields
// are identical either way.
func Build(info map[string]comfy.NodeInfo, now time.Time, debug bool) *Snapshot {
	var dbg *[]DebugEntry
	if debug {
		dbg = &[]DebugEntry{}
	}

	// The introspection mapping arrives as JSON with no usable order; sort
	// node names once so repeated builds of the same data are identical.
	nodes := make([]string, 0, len(info))
	for name := range info {
		nodes = append(nodes, name)
	}
	sort.Strings(nodes)

	snap := &Snapshot{
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
		Models: map[string][]string{
			CategoryAll:  extract(info, nodes, allModelKeys, dbg),
			CategoryCkpt: extract(info, nodes, ckptKeys, dbg),
			CategoryUnet: extract(info, nodes, unetKeys, dbg),
		},
		Loras:      extractLoras(info, nodes, dbg),
		VAE:        extract(info, nodes, vaeKeys, dbg),
		Samplers:   extract(info, nodes, samplerKeys, dbg),
		Schedulers: extract(info, nodes, schedulerKey, dbg),
	}
	if dbg != nil {
		snap.Debug = *dbg
	}
	return snap
}

// extract gathers choice values for the given input keys across all nodes,
// deduplicated in first-seen order. Always returns a non-nil slice so the
// JSON encoding is a list, never null.
func extract(info map[string]comfy.NodeInfo, nodes, keys []string, dbg *[]DebugEntry) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})

	for _, node := range nodes {
		spec := info[node].Input
		for _, key := range keys {
			choices := comfy.Choices(spec.Field(key))
			if len(choices) == 0 {
				continue
			}
			record(dbg, node, key, choices)
			for _, choice := range choices {
				if _, ok := seen[choice]; ok {
					continue
				}
				seen[choice] = struct{}{}
				out = append(out, choice)
			}
		}
	}
	return out
}

// extractLoras gathers lora_name choices from LoRA-related node types.
func extractLoras(info map[string]comfy.NodeInfo, nodes []string, dbg *[]DebugEntry) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{})

	for _, node := range nodes {
		if !strings.Contains(strings.ToLower(node), "lora") {
			continue
		}
		choices := comfy.Choices(info[node].Input.Field("lora_name"))
		if len(choices) == 0 {
			continue
		}
		record(dbg, node, "lora_name", choices)
		for _, choice := range choices {
			if _, ok := seen[choice]; ok {
				continue
			}
			seen[choice] = struct{}{}
			out = append(out, choice)
		}
	}
	return out
}

func record(dbg *[]DebugEntry, node, key string, choices []string) {
	if dbg == nil {
		return
	}
	sample := choices
	if len(sample) > 3 {
		sample = sample[:3]
	}
	*dbg = append(*dbg, DebugEntry{Node: node, Key: key, Count: len(choices), Sample: sample})
}
