package tile

import "testing"

func TestComputeDirectSupport(t *testing.T) {
	t.Parallel()
	caps := []Caps{StaticCaps{Codec: 1, MaxW: 1920, MaxH: 1088}}
	if plan := Compute(1280, 720, caps); plan != nil {
		t.Errorf("directly supported size produced a plan: %+v", plan)
	}
}

func TestComputePortraitSplit(t *testing.T) {
	t.Parallel()
	caps := []Caps{StaticCaps{Codec: 1, MaxW: 1920, MaxH: 1088}}
	plan := Compute(1200, 2000, caps)
	if plan == nil {
		t.Fatal("expected a plan for 1200x2000 against 1920x1088")
	}

	if plan.CodecID != 1 {
		t.Errorf("codec = %d", plan.CodecID)
	}
	if plan.TilesX != 1 || plan.TilesY != 2 {
		t.Errorf("grid %dx%d, want 1x2", plan.TilesX, plan.TilesY)
	}
	if plan.TileW%16 != 0 || plan.TileH%16 != 0 {
		t.Errorf("tile %dx%d not 16-aligned", plan.TileW, plan.TileH)
	}
	if plan.TileW*plan.TilesX < 1200 || plan.TileH*plan.TilesY < 2000 {
		t.Errorf("grid %dx%d tiles of %dx%d does not cover target",
			plan.TilesX, plan.TilesY, plan.TileW, plan.TileH)
	}
	if plan.TileW > plan.CapW || plan.TileH > plan.CapH {
		t.Errorf("tile %dx%d exceeds capability %dx%d",
			plan.TileW, plan.TileH, plan.CapW, plan.CapH)
	}
	if plan.TileCount() != 2 {
		t.Errorf("TileCount = %d, want 2", plan.TileCount())
	}
}

func TestComputePrefersLargestCapability(t *testing.T) {
	t.Parallel()
	caps := []Caps{
		StaticCaps{Codec: 1, MaxW: 1280, MaxH: 720},
		StaticCaps{Codec: 2, MaxW: 1920, MaxH: 1088},
	}
	plan := Compute(1200, 2000, caps)
	if plan == nil {
		t.Fatal("expected a plan")
	}
	if plan.CodecID != 2 {
		t.Errorf("chose codec %d, want the larger-capability candidate", plan.CodecID)
	}
}

func TestComputeWideTargetAddsColumns(t *testing.T) {
	t.Parallel()
	caps := []Caps{StaticCaps{Codec: 1, MaxW: 1920, MaxH: 1088}}
	plan := Compute(4000, 1000, caps)
	if plan == nil {
		t.Fatal("expected a plan for 4000x1000")
	}
	if plan.TilesX < 3 {
		t.Errorf("tilesX = %d, want at least 3 columns for a 4000-wide target", plan.TilesX)
	}
	if plan.TileW*plan.TilesX < 4000 || plan.TileH*plan.TilesY < 1000 {
		t.Errorf("grid does not cover target: %+v", plan)
	}
}

func TestComputeNoCandidates(t *testing.T) {
	t.Parallel()
	if plan := Compute(1200, 2000, nil); plan != nil {
		t.Errorf("no candidates: expected nil, got %+v", plan)
	}
	if plan := Compute(0, 2000, []Caps{StaticCaps{MaxW: 1920, MaxH: 1088}}); plan != nil {
		t.Errorf("zero dimension: expected nil, got %+v", plan)
	}
}

// rejectAll never supports any size, so derive must give up instead of
// looping.
type rejectAll struct{ StaticCaps }

func (rejectAll) Supports(int, int) bool { return false }

func TestComputeNonConvergence(t *testing.T) {
	t.Parallel()
	caps := []Caps{rejectAll{StaticCaps{Codec: 1, MaxW: 1920, MaxH: 1088}}}
	if plan := Compute(1200, 2000, caps); plan != nil {
		t.Errorf("expected nil for a candidate that rejects everything, got %+v", plan)
	}
}
