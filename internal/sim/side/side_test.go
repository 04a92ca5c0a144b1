package side

import (
	"reflect"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
)

func TestSetKeepsEnumOrder(t *testing.T) {
	s := Of(Right, Top, Front)
	got := s.Sides()
	want := []RelativeSide{Front, Top, Right}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sides: got %v want %v", got, want)
	}
	s.Remove(Top)
	if s.Has(Top) || s.Count() != 2 {
		t.Fatalf("remove failed: %v", s.Sides())
	}
}

func TestNamesRoundTrip(t *testing.T) {
	s := Of(Back, Bottom, Left)
	back, err := ParseNames(s.Names())
	if err != nil {
		t.Fatalf("ParseNames: %v", err)
	}
	if back != s {
		t.Fatalf("round trip: got %08b want %08b", back, s)
	}
	if _, err := ParseNames([]string{"SIDEWAYS"}); err == nil {
		t.Fatalf("expected error for unknown side")
	}
}

func TestAllSidesHasSix(t *testing.T) {
	if AllSides().Count() != 6 {
		t.Fatalf("expected 6 sides, got %d", AllSides().Count())
	}
}

func TestOrientationFaces(t *testing.T) {
	o := Orientation{Facing: cube.North}
	if o.Face(Front) != cube.FaceNorth {
		t.Fatalf("front: got %v", o.Face(Front))
	}
	if o.Face(Back) != cube.FaceSouth {
		t.Fatalf("back: got %v", o.Face(Back))
	}
	if o.Face(Top) != cube.FaceUp || o.Face(Bottom) != cube.FaceDown {
		t.Fatalf("vertical faces wrong")
	}
	if o.Face(Left) == o.Face(Right) {
		t.Fatalf("left and right must differ")
	}
}
