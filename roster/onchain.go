// Package roster resolves guardian rosters: the set of members, roles and
// notification keys for a federation group. The authoritative roster lives
// in an on-chain registry contract; a static in-memory implementation
// serves single-family deployments and tests.
package roster

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// guardianRegistryABI covers the single view function this service needs
// from the registry contract.
const guardianRegistryABI = `[{
	"name": "getGroupMembers",
	"type": "function",
	"stateMutability": "view",
	"inputs": [{"name": "groupId", "type": "bytes32"}],
	"outputs": [
		{"name": "ids", "type": "bytes32[]"},
		{"name": "roles", "type": "uint8[]"},
		{"name": "notifyKeys", "type": "bytes[]"}
	]
}]`

// OnchainRosterClient reads guardian rosters from a registry contract.
// Reads go through eth_call; the client never sends transactions.
type OnchainRosterClient struct {
	caller   bind.ContractCaller
	address  common.Address
	contract abi.ABI
}

// NewOnchainRosterClient creates a roster client for the registry contract
// at the given address.
func NewOnchainRosterClient(caller bind.ContractCaller, address common.Address) (*OnchainRosterClient, error) {
	contract, err := abi.JSON(strings.NewReader(guardianRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	return &OnchainRosterClient{
		caller:   caller,
		address:  address,
		contract: contract,
	}, nil
}

// GroupMembers returns every roster entry for the group, including
// members without approval authority.
func (c *OnchainRosterClient) GroupMembers(ctx context.Context, group interfaces.GroupID) ([]*interfaces.GuardianMember, error) {
	input, err := c.contract.Pack("getGroupMembers", [32]byte(group))
	if err != nil {
		return nil, fmt.Errorf("failed to encode roster call: %w", err)
	}

	output, err := c.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("roster contract call failed: %w", err)
	}

	var result struct {
		Ids        [][32]byte
		Roles      []uint8
		NotifyKeys [][]byte
	}
	if err := c.contract.UnpackIntoInterface(&result, "getGroupMembers", output); err != nil {
		return nil, fmt.Errorf("failed to decode roster response: %w", err)
	}
	if len(result.Roles) != len(result.Ids) || len(result.NotifyKeys) != len(result.Ids) {
		return nil, fmt.Errorf("malformed roster response: %d ids, %d roles, %d keys",
			len(result.Ids), len(result.Roles), len(result.NotifyKeys))
	}

	members := make([]*interfaces.GuardianMember, 0, len(result.Ids))
	for i, id := range result.Ids {
		members = append(members, &interfaces.GuardianMember{
			ID:           interfaces.GuardianID(id),
			Role:         interfaces.GuardianRole(result.Roles[i]),
			NotifyPubkey: result.NotifyKeys[i],
		})
	}
	return members, nil
}
