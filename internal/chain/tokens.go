package chain

import "strings"

// ExtractTokenID recovers the minted key identifier from a confirmed grant
// receipt. It scans for ownership-transfer events emitted by the registry
// whose recipient topic matches recipient (case-insensitive) and decodes the
// token id topic. found is false when no log matches; the caller treats that
// as non-fatal since the grant itself already confirmed, and the id can be
// backfilled from ownership enumeration later.
//
// Exactly one match is expected per (registry, recipient, transaction). If
// several logs match, the first wins and ambiguous is true so the caller can
// log it.
func ExtractTokenID(logs []Log, registry, recipient string) (tokenID string, found bool, ambiguous bool) {
	matches := 0
	for _, lg := range logs {
		if !strings.EqualFold(lg.Address, registry) {
			continue
		}
		if len(lg.Topics) < 4 {
			continue
		}
		if !strings.EqualFold(lg.Topics[0], transferTopic) {
			continue
		}
		to, err := topicAddress(lg.Topics[2])
		if err != nil || !strings.EqualFold(to, recipient) {
			continue
		}
		matches++
		if !found {
			id, err := topicUint256(lg.Topics[3])
			if err != nil {
				continue
			}
			tokenID = id
			found = true
		}
	}
	return tokenID, found, matches > 1
}
