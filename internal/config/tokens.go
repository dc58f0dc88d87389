package config

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Token describes an ERC20 contract the hardware device can render amounts for.
type Token struct {
	Symbol    string
	Address   common.Address
	Decimals  uint32
	ChainID   uint64
	Signature []byte
}

// ParseTokens parses entries of the form "symbol:address:decimals:chainID[:signatureHex]".
// Malformed entries are logged and skipped.
func ParseTokens(entries []string) []Token {
	tokens := make([]Token, 0, len(entries))
	for _, entry := range entries {
		token, ok := parseToken(entry)
		if !ok {
			log.Warn().Str("entry", entry).Msg("Skipping malformed token entry")
			continue
		}
		tokens = append(tokens, token)
	}

	return tokens
}

func parseToken(entry string) (Token, bool) {
	parts := strings.Split(entry, ":")
	if len(parts) < 4 || len(parts) > 5 {
		return Token{}, false
	}
	if parts[0] == "" || !common.IsHexAddress(parts[1]) {
		return Token{}, false
	}
	decimals, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Token{}, false
	}
	chainID, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Token{}, false
	}

	token := Token{
		Symbol:   parts[0],
		Address:  common.HexToAddress(parts[1]),
		Decimals: uint32(decimals),
		ChainID:  chainID,
	}
	if len(parts) == 5 && parts[4] != "" {
		sig := common.FromHex(parts[4])
		if len(sig) == 0 {
			return Token{}, false
		}
		token.Signature = sig
	}

	return token, true
}

func defaultTokens(chainID uint64) []string {
	switch chainID {
	case MainnetChainID:
		return []string{
			"cUSD:0x765DE816845861e75A25fCA122bb6898B8B1282a:18:42220",
			"cEUR:0xD8763CBa276a3738E6DE85b4b3bF5FDed6D6cA73:18:42220",
		}
	case AlfajoresChainID:
		return []string{
			"cUSD:0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1:18:44787",
			"cEUR:0x10c892A6EC43a53E45D0B916B4b7D383B1b78C0F:18:44787",
		}
	default:
		return nil
	}
}

func parseChainIDs(entries []string, active uint64) []uint64 {
	ids := []uint64{active}
	for _, entry := range entries {
		id, err := strconv.ParseUint(strings.TrimSpace(entry), 10, 64)
		if err != nil {
			log.Warn().Str("entry", entry).Msg("Skipping malformed chain id")
			continue
		}
		if id != active {
			ids = append(ids, id)
		}
	}

	return ids
}
