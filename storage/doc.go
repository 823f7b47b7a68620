// Package storage provides shard record persistence across multiple
// backend types: local filesystem, Amazon S3, HashiCorp Vault and IPFS.
// Backends are created from location URIs by the factory, and the
// replicated backend aggregates several of them for redundancy. Every
// backend only ever handles double-encrypted ciphertext bundles.
package storage
