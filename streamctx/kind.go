package streamctx

import "github.com/chalvern/streamrpc/codec"

// Kind discriminates the three stream shapes: Cold is a single-consumer
// restartable producer, SharedHot is a multi-subscriber broadcast, StateHot
// is a hot stream with a conflated latest value.
type Kind uint8

const (
	Cold Kind = iota
	SharedHot
	StateHot
)

func (k Kind) String() string {
	switch k {
	case Cold:
		return "Cold"
	case SharedHot:
		return "SharedHot"
	case StateHot:
		return "StateHot"
	default:
		return "Kind(unknown)"
	}
}

// Tag converts to the codec package's copy of this enum, used to avoid an
// import cycle between codec and streamctx.
func (k Kind) Tag() codec.StreamKindTag { return codec.StreamKindTag(k) }

func fromTag(t codec.StreamKindTag) Kind { return Kind(t) }
