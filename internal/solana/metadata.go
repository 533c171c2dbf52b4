package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"solana-signal-lab/internal/domain"
)

// MetadataReader reads SPL mint and Metaplex metadata accounts.
type MetadataReader struct {
	rpc AccountReader
}

// NewMetadataReader creates a reader on rpc.
func NewMetadataReader(rpc AccountReader) *MetadataReader {
	return &MetadataReader{rpc: rpc}
}

// Fetch returns token metadata for mint, or nil when the mint account does not exist.
func (r *MetadataReader) Fetch(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	meta := &domain.TokenMetadata{
		Mint:      mint,
		FetchedAt: time.Now().UnixMilli(),
	}

	mintInfo, err := r.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint account info: %w", err)
	}
	if mintInfo == nil {
		return nil, nil
	}
	// A short or undecodable mint account still lets us try Metaplex.
	_ = parseMintData(mintInfo.Data, meta)

	pda, err := MetadataAddress(mint)
	if err != nil {
		return meta, nil
	}
	metaInfo, err := r.rpc.GetAccountInfo(ctx, pda)
	if err == nil && metaInfo != nil {
		parseMetaplexData(metaInfo.Data, meta)
	}
	return meta, nil
}

// MetadataAddress derives the Metaplex metadata PDA for mint.
// Seeds: ["metadata", metaplex_program_id, mint]
func MetadataAddress(mint string) (string, error) {
	mintBytes, err := decodeMint(mint)
	if err != nil {
		return "", err
	}
	programBytes, err := decodeMint(MetaplexProgramID)
	if err != nil {
		return "", err
	}
	pda, _, err := FindProgramAddress([][]byte{[]byte("metadata"), programBytes, mintBytes}, MetaplexProgramID)
	return pda, err
}

// parseMintData parses SPL Token Mint account data.
// Layout (82 bytes): mintAuthority Option<Pubkey> (36), supply u64 (8),
// decimals u8 (1), isInitialized bool (1), freezeAuthority Option<Pubkey> (36).
func parseMintData(data string, meta *domain.TokenMetadata) error {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode mint data: %w", err)
	}
	if len(decoded) < 82 {
		return fmt.Errorf("mint data too short: %d", len(decoded))
	}

	supply := binary.LittleEndian.Uint64(decoded[36:44])
	decimals := int(decoded[44])

	meta.Decimals = decimals
	supplyFloat := float64(supply) / math.Pow(10, float64(decimals))
	meta.Supply = &supplyFloat
	return nil
}

// parseMetaplexData parses the name, symbol and uri of a MetadataV1 account:
// key u8, updateAuthority (32), mint (32), then three borsh strings.
func parseMetaplexData(data string, meta *domain.TokenMetadata) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil || len(decoded) < 100 || decoded[0] != 4 {
		return
	}

	offset := 65
	fields := []struct {
		max int
		dst **string
	}{
		{100, &meta.Name},
		{20, &meta.Symbol},
		{400, &meta.URI},
	}
	for _, f := range fields {
		if offset+4 > len(decoded) {
			return
		}
		n := int(binary.LittleEndian.Uint32(decoded[offset:]))
		offset += 4
		if n > f.max || offset+n > len(decoded) {
			return
		}
		s := strings.TrimRight(string(decoded[offset:offset+n]), "\x00")
		offset += n
		if s != "" {
			*f.dst = &s
		}
	}
}
