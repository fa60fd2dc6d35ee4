package streams

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// WordSize is the width of one ABI word in bytes.
const WordSize = 32

// Fixed-point divisors. The two modes assume different decimal exponents for
// the price word and are kept apart on purpose.
const (
	FullFieldDivisor    = 1e18
	FullFieldExponent   = 18
	PriceOnlyDivisor    = 1e2
	PriceOnlyExponent   = 2
	FullFieldMinLength  = 544
	PriceOnlyMinLength  = 64
	priceOnlyWordOffset = WordSize
	rawPrefix           = "0x"
)

// LayoutField locates one value inside the decoded payload.
type LayoutField struct {
	Name   string
	Offset int
	Size   int
}

// End returns the exclusive end offset.
func (f LayoutField) End() int { return f.Offset + f.Size }

// Full-field layout. validFromTimestamp reads the last four bytes of the
// feed id word and observationsTimestamp the last four bytes of word 9.
var (
	FieldFeedID                = LayoutField{Name: "feedId", Offset: 256, Size: WordSize}
	FieldValidFromTimestamp    = LayoutField{Name: "validFromTimestamp", Offset: 284, Size: 4}
	FieldObservationsTimestamp = LayoutField{Name: "observationsTimestamp", Offset: 316, Size: 4}
	FieldBenchmarkPrice        = LayoutField{Name: "benchmarkPrice", Offset: 448, Size: WordSize}
	FieldBid                   = LayoutField{Name: "bid", Offset: 480, Size: WordSize}
	FieldAsk                   = LayoutField{Name: "ask", Offset: 512, Size: WordSize}

	// FullLayout lists the fields in read order.
	FullLayout = []LayoutField{
		FieldFeedID,
		FieldValidFromTimestamp,
		FieldObservationsTimestamp,
		FieldBenchmarkPrice,
		FieldBid,
		FieldAsk,
	}

	// FieldPriceOnly is the single word read by ModePriceOnly.
	FieldPriceOnly = LayoutField{Name: "benchmarkPrice", Offset: priceOnlyWordOffset, Size: WordSize}
)

// DecodedReport is the structured form of a raw report.
type DecodedReport struct {
	FeedID                string      `json:"feedId"`
	ValidFromTimestamp    uint32      `json:"validFromTimestamp"`
	ObservationsTimestamp uint32      `json:"observationsTimestamp"`
	BenchmarkPrice        float64     `json:"benchmarkPrice"`
	Bid                   float64     `json:"bid"`
	Ask                   float64     `json:"ask"`
	RawReport             string      `json:"rawReport"`
	Mode                  Mode        `json:"mode"`
	Exact                 ExactPrices `json:"exact"`
}

// ExactPrices carries the scaled prices without floating-point rounding.
type ExactPrices struct {
	BenchmarkPrice decimal.Decimal `json:"benchmarkPrice"`
	Bid            decimal.Decimal `json:"bid"`
	Ask            decimal.Decimal `json:"ask"`
}

// Decode parses raw under mode. It is pure and safe for concurrent use.
//
// ModeFull requires FullFieldMinLength bytes and fails with
// ErrTruncatedBuffer otherwise. ModePriceOnly returns a zero price without
// error when the payload is shorter than PriceOnlyMinLength.
func Decode(raw string, mode Mode) (*DecodedReport, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown decode mode %d", ErrInvalidRequest, int(mode))
	}

	buf, err := parseRaw(raw, mode)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModePriceOnly:
		return decodePriceOnly(raw, buf)
	default:
		return decodeFull(raw, buf)
	}
}

// DecodeBytes decodes an already hex-decoded payload.
func DecodeBytes(buf []byte, mode Mode) (*DecodedReport, error) {
	return Decode(rawPrefix+hex.EncodeToString(buf), mode)
}

func decodeFull(raw string, buf []byte) (*DecodedReport, error) {
	for _, f := range FullLayout {
		if f.End() > len(buf) {
			return nil, &DecodeError{
				Kind:   ErrTruncatedBuffer,
				Mode:   ModeFull,
				Field:  f.Name,
				Offset: f.Offset,
				Length: len(buf),
			}
		}
	}

	out := &DecodedReport{
		FeedID:                rawPrefix + hex.EncodeToString(slice(buf, FieldFeedID)),
		ValidFromTimestamp:    binary.BigEndian.Uint32(slice(buf, FieldValidFromTimestamp)),
		ObservationsTimestamp: binary.BigEndian.Uint32(slice(buf, FieldObservationsTimestamp)),
		RawReport:             raw,
		Mode:                  ModeFull,
	}

	var err error
	if out.BenchmarkPrice, out.Exact.BenchmarkPrice, err = scaleWord(buf, FieldBenchmarkPrice, ModeFull); err != nil {
		return nil, err
	}
	if out.Bid, out.Exact.Bid, err = scaleWord(buf, FieldBid, ModeFull); err != nil {
		return nil, err
	}
	if out.Ask, out.Exact.Ask, err = scaleWord(buf, FieldAsk, ModeFull); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePriceOnly(raw string, buf []byte) (*DecodedReport, error) {
	out := &DecodedReport{
		RawReport: raw,
		Mode:      ModePriceOnly,
		Exact: ExactPrices{
			BenchmarkPrice: decimal.Zero,
			Bid:            decimal.Zero,
			Ask:            decimal.Zero,
		},
	}
	if len(buf) < PriceOnlyMinLength {
		return out, nil
	}

	var err error
	if out.BenchmarkPrice, out.Exact.BenchmarkPrice, err = scaleWord(buf, FieldPriceOnly, ModePriceOnly); err != nil {
		return nil, err
	}
	return out, nil
}

func parseRaw(raw string, mode Mode) ([]byte, error) {
	if !strings.HasPrefix(raw, rawPrefix) {
		return nil, &DecodeError{Kind: ErrMalformedInput, Mode: mode, Detail: "missing 0x prefix"}
	}
	body := raw[len(rawPrefix):]
	if len(body)%2 != 0 {
		return nil, &DecodeError{Kind: ErrMalformedInput, Mode: mode, Detail: fmt.Sprintf("odd hex length %d", len(body))}
	}
	buf, err := hex.DecodeString(body)
	if err != nil {
		return nil, &DecodeError{Kind: ErrMalformedInput, Mode: mode, Detail: err.Error()}
	}
	return buf, nil
}

func slice(buf []byte, f LayoutField) []byte {
	return buf[f.Offset:f.End()]
}

// scaleWord reads an unsigned big-endian word and divides it by the mode's
// divisor. The float result must be finite.
func scaleWord(buf []byte, f LayoutField, mode Mode) (float64, decimal.Decimal, error) {
	n := new(big.Int).SetBytes(slice(buf, f))
	exact := decimal.NewFromBigInt(n, -mode.Exponent())

	q := new(big.Float).Quo(new(big.Float).SetInt(n), big.NewFloat(mode.Divisor()))
	v, _ := q.Float64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, decimal.Zero, &DecodeError{
			Kind:   ErrOverflow,
			Mode:   mode,
			Field:  f.Name,
			Offset: f.Offset,
			Length: len(buf),
			Detail: "value exceeds float64 range",
		}
	}
	return v, exact, nil
}
