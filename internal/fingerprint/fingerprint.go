package fingerprint

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Purchase holds the attributes that identify one logical purchase. Two
// submissions with the same normalized attributes map to the same order.
type Purchase struct {
	BuyerID           string
	ItemID            string
	AmountMinor       int64
	Currency          string
	FulfillmentMethod string
	RecipientAddress  string
}

// Derive returns a stable hex fingerprint over the canonical form of p.
// Field ordering and casing never change the result. The digest guards
// against accidental duplicate orders, not against an adversary.
func Derive(p Purchase) string {
	fields := map[string]string{
		"buyer_id":           norm(p.BuyerID),
		"item_id":            norm(p.ItemID),
		"amount_minor":       strconv.FormatInt(p.AmountMinor, 10),
		"currency":           norm(p.Currency),
		"fulfillment_method": norm(p.FulfillmentMethod),
		"recipient_address":  norm(p.RecipientAddress),
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := blake3.New()
	for _, k := range keys {
		// Length-prefixed pairs so that no concatenation of adjacent
		// values can collide with a different field split.
		fmt.Fprintf(h, "%d:%s=%d:%s;", len(k), k, len(fields[k]), fields[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
