package cache

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"math"
	"sort"

	"github.com/kalambet/branchline/internal/timeline"
)

// keyHasher builds FNV-1a keys from a normalized, length-prefixed encoding
// so that logically equal inputs always hash the same.
type keyHasher struct {
	h   hash.Hash64
	buf [8]byte
}

func newKeyHasher() *keyHasher {
	return &keyHasher{h: fnv.New64a()}
}

func (k *keyHasher) writeUint(u uint64) {
	binary.LittleEndian.PutUint64(k.buf[:], u)
	k.h.Write(k.buf[:])
}

func (k *keyHasher) writeString(s string) {
	k.writeUint(uint64(len(s)))
	k.h.Write([]byte(s))
}

func (k *keyHasher) writeFloat(f float64) {
	k.writeUint(math.Float64bits(f))
}

func (k *keyHasher) writeInt(i int) {
	k.writeUint(uint64(i))
}

func (k *keyHasher) key(namespace string) string {
	return fmt.Sprintf("%s:%016x", namespace, k.h.Sum64())
}

func (k *keyHasher) feeds(feeds []timeline.FeedItem) {
	sorted := make([]timeline.FeedItem, len(feeds))
	copy(sorted, feeds)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	k.writeInt(len(sorted))
	for _, f := range sorted {
		k.feed(f)
	}
}

func (k *keyHasher) feed(f timeline.FeedItem) {
	k.writeString(f.ID)
	k.writeString(f.Phase)
	k.writeString(f.Type)
	k.writeString(f.Priority)
	k.writeString(f.Status)
	k.writeUint(uint64(f.CreatedAt.UnixNano()))
	k.metadata(f.Metadata)
}

func (k *keyHasher) metadata(m map[string]string) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	k.writeInt(len(keys))
	for _, key := range keys {
		k.writeString(key)
		k.writeString(m[key])
	}
}

func (k *keyHasher) stages(stages map[string]timeline.StagePosition) {
	phases := make([]string, 0, len(stages))
	for p := range stages {
		phases = append(phases, p)
	}
	sort.Strings(phases)
	k.writeInt(len(phases))
	for _, p := range phases {
		s := stages[p]
		k.writeString(p)
		k.writeFloat(s.X)
		k.writeFloat(s.Y)
		k.writeFloat(s.Height)
		k.writeFloat(s.Spacing)
	}
}

func (k *keyHasher) positioned(feeds []timeline.PositionedFeed) {
	k.writeInt(len(feeds))
	for _, f := range feeds {
		k.writeString(f.ID)
		k.writeString(f.Phase)
		k.writeString(f.Priority)
		k.writeString(f.Status)
		k.writeFloat(f.X)
		k.writeFloat(f.Y)
		k.writeFloat(f.Anchor.X)
		k.writeFloat(f.Anchor.Y)
	}
}

// LayoutKey is the key of a full layout result.
func LayoutKey(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition, viewportHeight float64) string {
	k := newKeyHasher()
	k.feeds(feeds)
	k.stages(stages)
	k.writeFloat(viewportHeight)
	return k.key(nsLayout)
}

// PositionsKey is the key of a positioned-feed list.
func PositionsKey(feeds []timeline.FeedItem, stages map[string]timeline.StagePosition) string {
	k := newKeyHasher()
	k.feeds(feeds)
	k.stages(stages)
	return k.key(nsPositions)
}

// StagesKey is the key of stage anchors derived from a project and the feed
// counts per phase.
func StagesKey(project timeline.Project, feeds []timeline.FeedItem) string {
	phases := make([]timeline.Phase, len(project.Phases))
	copy(phases, project.Phases)
	sort.SliceStable(phases, func(i, j int) bool { return phases[i].ID < phases[j].ID })

	counts := make(map[string]int)
	for _, f := range feeds {
		counts[f.Phase]++
	}

	k := newKeyHasher()
	k.writeString(project.ID)
	k.writeInt(len(phases))
	for _, p := range phases {
		k.writeString(p.ID)
		k.writeInt(p.Order)
		k.writeInt(counts[p.ID])
	}
	return k.key(nsStages)
}

// ConnectorsKey is the key of the connectors for a positioned-feed list.
func ConnectorsKey(positioned []timeline.PositionedFeed) string {
	k := newKeyHasher()
	k.positioned(positioned)
	return k.key(nsConnectors)
}

// FilteredKey is the key of a filtered feed list.
func FilteredKey(feeds []timeline.FeedItem, filters []string) string {
	sorted := append([]string(nil), filters...)
	sort.Strings(sorted)

	k := newKeyHasher()
	// Order matters for the filtered output, so hash feeds as given.
	k.writeInt(len(feeds))
	for _, f := range feeds {
		k.feed(f)
	}
	k.writeInt(len(sorted))
	for _, f := range sorted {
		k.writeString(f)
	}
	return k.key(nsFiltered)
}
