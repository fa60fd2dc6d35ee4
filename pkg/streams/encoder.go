package streams

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
)

// ReportFields is the input of EncodeFull.
type ReportFields struct {
	FeedID                [WordSize]byte
	ValidFromTimestamp    uint32
	ObservationsTimestamp uint32
	BenchmarkPrice        *big.Int
	Bid                   *big.Int
	Ask                   *big.Int
}

// EncodeFull lays out fields the way ModeFull reads them and returns a
// 0x-prefixed hex string of FullFieldMinLength bytes. ValidFromTimestamp is
// written last, so it replaces the final four bytes of the feed id.
func EncodeFull(f ReportFields) string {
	buf := make([]byte, FullFieldMinLength)
	copy(slice(buf, FieldFeedID), f.FeedID[:])
	putWord(slice(buf, FieldBenchmarkPrice), f.BenchmarkPrice)
	putWord(slice(buf, FieldBid), f.Bid)
	putWord(slice(buf, FieldAsk), f.Ask)
	binary.BigEndian.PutUint32(slice(buf, FieldObservationsTimestamp), f.ObservationsTimestamp)
	binary.BigEndian.PutUint32(slice(buf, FieldValidFromTimestamp), f.ValidFromTimestamp)
	return rawPrefix + hex.EncodeToString(buf)
}

// EncodePriceOnly returns a PriceOnlyMinLength-byte payload with price in
// the second word.
func EncodePriceOnly(price *big.Int) string {
	buf := make([]byte, PriceOnlyMinLength)
	putWord(slice(buf, FieldPriceOnly), price)
	return rawPrefix + hex.EncodeToString(buf)
}

// ScaledInt returns whole*10^exp as an integer word value, e.g.
// ScaledInt(2500, 18) for a price of 2500 under ModeFull.
func ScaledInt(whole int64, exp int) *big.Int {
	n := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
	return n.Mul(n, big.NewInt(whole))
}

func putWord(dst []byte, v *big.Int) {
	if v == nil {
		return
	}
	v.FillBytes(dst)
}
