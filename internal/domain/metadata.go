package domain

// TokenMetadata represents token metadata read from chain.
type TokenMetadata struct {
	Mint      string   // token mint address
	Name      *string  // Metaplex name (nullable)
	Symbol    *string  // Metaplex symbol (nullable)
	URI       *string  // Metaplex URI (nullable)
	Decimals  int      // mint decimals
	Supply    *float64 // UI supply (nullable)
	FetchedAt int64    // Unix ms
}
