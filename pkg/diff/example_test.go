package diff_test

import (
	"fmt"

	"github.com/openfroyo/reconcilectl/pkg/diff"
)

func ExampleCompare() {
	desired := map[string]any{
		"replicas": 3,
		"image":    "nginx:1.27",
		"labels":   map[string]any{"tier": "web"},
	}
	actual := map[string]any{
		"replicas": 2,
		"image":    "nginx:1.27",
		"paused":   true,
	}

	fmt.Println(diff.Compare(desired, actual))
	// Output:
	// + labels:
	//   + tier: web
	// - paused: true
	// ~ replicas: 2 -> 3
}

func ExampleDiff_Join() {
	first := diff.New().
		Add("foo", "bar").
		WithNested("nested", diff.New().Add("qwerty", "uiop"))
	second := diff.New().
		Delete("foo", "bar").
		WithNested("nested", diff.New().Add("new", "field"))

	joined := first.Join(second)
	fmt.Println(joined)
	fmt.Println(joined.Summary().Total())
	// Output:
	// + foo: bar
	// + nested:
	//   + qwerty: uiop
	//   + new: field
	// - foo: bar
	// 4
}
