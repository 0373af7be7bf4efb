package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowlite/sidecar/internal/comfy"
)

// fixtureInfo mirrors a small ComfyUI host: two checkpoints, one unet, one
// lora, one vae, three samplers, two schedulers.
func fixtureInfo() map[string]comfy.NodeInfo {
	node := func(key, spec string) comfy.NodeInfo {
		return comfy.NodeInfo{Input: comfy.InputSpec{
			Required: map[string]json.RawMessage{key: json.RawMessage(spec)},
		}}
	}
	return map[string]comfy.NodeInfo{
		"CheckpointLoaderSimple": node("ckpt_name", `[["sd15.safetensors", "sdxl.safetensors"]]`),
		"UNETLoader":             node("unet_name", `[["flux-dev.safetensors"]]`),
		"LoraLoader":             node("lora_name", `[["detail-tweaker.safetensors"]]`),
		"VAELoader":              node("vae_name", `[["vae-ft-mse.safetensors"]]`),
		"KSampler": {Input: comfy.InputSpec{Required: map[string]json.RawMessage{
			"sampler_name": json.RawMessage(`[["euler", "dpmpp_2m", "ddim"]]`),
			"scheduler":    json.RawMessage(`[["normal", "karras"]]`),
		}}},
	}
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	info  map[string]comfy.NodeInfo
	err   error
}

func (f *fakeSource) ObjectInfo(ctx context.Context) (map[string]comfy.NodeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestBuildClassification(t *testing.T) {
	snap := Build(fixtureInfo(), time.Now(), false)

	if got := len(snap.Models[CategoryCkpt]); got != 2 {
		t.Errorf("ckpt = %d, want 2", got)
	}
	if got := len(snap.Models[CategoryUnet]); got != 1 {
		t.Errorf("unet = %d, want 1", got)
	}
	if got := len(snap.Loras); got != 1 {
		t.Errorf("loras = %d, want 1", got)
	}
	if got := len(snap.VAE); got != 1 {
		t.Errorf("vae = %d, want 1", got)
	}
	if got := len(snap.Samplers); got != 3 {
		t.Errorf("samplers = %d, want 3", got)
	}
	if got := len(snap.Schedulers); got != 2 {
		t.Errorf("schedulers = %d, want 2", got)
	}

	all := snap.Models[CategoryAll]
	if len(all) < 3 {
		t.Fatalf("all = %v, want at least 3 entries", all)
	}
	seen := make(map[string]bool)
	for _, name := range all {
		if seen[name] {
			t.Errorf("duplicate %q in models.all", name)
		}
		seen[name] = true
	}
	if !seen["flux-dev.safetensors"] || !seen["sd15.safetensors"] {
		t.Errorf("models.all missing expected entries: %v", all)
	}
}

func TestBuildDeduplicatesAcrossNodes(t *testing.T) {
	info := fixtureInfo()
	// A second loader advertising an already-known checkpoint.
	info["CheckpointLoader"] = comfy.NodeInfo{Input: comfy.InputSpec{
		Required: map[string]json.RawMessage{
			"ckpt_name": json.RawMessage(`[["sd15.safetensors", "anything-v5.ckpt"]]`),
		},
	}}

	snap := Build(info, time.Now(), false)
	count := 0
	for _, name := range snap.Models[CategoryCkpt] {
		if name == "sd15.safetensors" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("sd15.safetensors appears %d times, want 1", count)
	}
	if len(snap.Models[CategoryCkpt]) != 3 {
		t.Errorf("ckpt = %v, want 3 entries", snap.Models[CategoryCkpt])
	}
}

func TestBuildDeterministic(t *testing.T) {
	a := Build(fixtureInfo(), time.Unix(100, 0), false)
	b := Build(fixtureInfo(), time.Unix(100, 0), false)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("builds of identical data differ:\n%s\n%s", ja, jb)
	}
}

func TestBuildEmptyInfo(t *testing.T) {
	snap := Build(nil, time.Now(), false)

	for name, list := range snap.Models {
		if list == nil || len(list) != 0 {
			t.Errorf("models[%s] = %v, want empty non-nil", name, list)
		}
	}
	if snap.Loras == nil || snap.Samplers == nil || snap.Schedulers == nil || snap.VAE == nil {
		t.Error("category slices must be non-nil so JSON encodes lists")
	}
}

func TestBuildDebug(t *testing.T) {
	plain := Build(fixtureInfo(), time.Unix(100, 0), false)
	debug := Build(fixtureInfo(), time.Unix(100, 0), true)

	if len(debug.Debug) == 0 {
		t.Fatal("debug build has no debug entries")
	}
	if len(plain.Debug) != 0 {
		t.Error("plain build must not carry debug entries")
	}

	for _, e := range debug.Debug {
		if len(e.Sample) > 3 {
			t.Errorf("debug sample for %s/%s has %d entries, want <= 3", e.Node, e.Key, len(e.Sample))
		}
	}

	// Debug must not alter the categorized fields.
	debug.Debug = nil
	ja, _ := json.Marshal(plain)
	jb, _ := json.Marshal(debug)
	if string(ja) != string(jb) {
		t.Error("debug build changed categorized fields")
	}
}

func TestGetIdempotentWithinTTL(t *testing.T) {
	src := &fakeSource{info: fixtureInfo()}
	c := New(src, time.Hour)

	first, err := c.Get(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if first != second {
		t.Error("expected the identical snapshot within the TTL window")
	}
	if first.Timestamp != second.Timestamp {
		t.Errorf("timestamps differ: %v vs %v", first.Timestamp, second.Timestamp)
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times, want 1", src.callCount())
	}
}

func TestGetForceRefresh(t *testing.T) {
	src := &fakeSource{info: fixtureInfo()}
	c := New(src, time.Hour)

	first, _ := c.Get(context.Background(), false, false)
	second, err := c.Get(context.Background(), true, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if src.callCount() != 2 {
		t.Errorf("source called %d times, want 2", src.callCount())
	}
	if second.Timestamp < first.Timestamp {
		t.Error("forced refresh produced an older timestamp")
	}
}

func TestGetRecomputesAfterTTL(t *testing.T) {
	src := &fakeSource{info: fixtureInfo()}
	c := New(src, 10*time.Millisecond)

	first, _ := c.Get(context.Background(), false, false)
	time.Sleep(20 * time.Millisecond)
	second, err := c.Get(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if second.Timestamp <= first.Timestamp {
		t.Error("timestamp did not increase after TTL expiry")
	}
	if src.callCount() != 2 {
		t.Errorf("source called %d times, want 2", src.callCount())
	}
}

func TestGetConcurrentRefreshSingleFlight(t *testing.T) {
	src := &fakeSource{info: fixtureInfo()}
	c := New(src, 10*time.Millisecond)

	if _, err := c.Get(context.Background(), false, false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	const n = 16
	var wg sync.WaitGroup
	snaps := make([]*Snapshot, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.Get(context.Background(), false, false)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			snaps[i] = snap
		}(i)
	}
	wg.Wait()

	// One initial compute plus exactly one refresh for the whole burst.
	if src.callCount() != 2 {
		t.Errorf("source called %d times, want 2", src.callCount())
	}
	for i := 1; i < n; i++ {
		if snaps[i] != snaps[0] {
			t.Fatal("concurrent callers observed different snapshots")
		}
	}
}

func TestGetServesStaleOnSourceFailure(t *testing.T) {
	src := &fakeSource{info: fixtureInfo()}
	c := New(src, 10*time.Millisecond)

	first, err := c.Get(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	src.setErr(errors.New("host unreachable"))
	time.Sleep(20 * time.Millisecond)

	snap, err := c.Get(context.Background(), false, false)
	if err != nil {
		t.Fatalf("expected stale snapshot, got error: %v", err)
	}
	if snap != first {
		t.Error("expected the previous snapshot to be served unchanged")
	}
}

func TestGetUnavailableWithoutSnapshot(t *testing.T) {
	src := &fakeSource{err: errors.New("host unreachable")}
	c := New(src, time.Hour)

	_, err := c.Get(context.Background(), false, false)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGetDebugNotCached(t *testing.T) {
	src := &fakeSource{info: fixtureInfo()}
	c := New(src, time.Hour)

	withDebug, err := c.Get(context.Background(), false, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(withDebug.Debug) == 0 {
		t.Fatal("debug request returned no debug entries")
	}

	snap, err := c.Get(context.Background(), false, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Debug) != 0 {
		t.Error("cached snapshot must not carry debug info")
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times, want 1", src.callCount())
	}
}
