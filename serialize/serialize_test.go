package serialize

import (
	"bytes"
	"testing"
)

type widget struct {
	Name  string
	Count int
}

func TestJSONRoundtrip(t *testing.T) {
	ser := JSON[widget]{}
	var buf bytes.Buffer
	want := widget{Name: "bolt", Count: 12}

	if err := ser.Serialize(want, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := ser.Deserialize(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestJSONVersion(t *testing.T) {
	ser := JSON[int]{}
	v := ser.Version()
	if v.Major != 1 || v.Minor != 0 {
		t.Fatalf("version = %+v, want {1 0}", v)
	}
}

func TestJSONDeserializeEmpty(t *testing.T) {
	ser := JSON[int]{}
	got, err := ser.Deserialize(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("got %d, want zero value", got)
	}
}
