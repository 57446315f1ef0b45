package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const marketplaceABI = `[
 {"type":"function","name":"getAllListings","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},
   {"name":"seller","type":"address"},{"name":"price","type":"uint256"}]}]},
 {"type":"function","name":"getAllAuctions","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},
   {"name":"seller","type":"address"},{"name":"minBid","type":"uint256"},
   {"name":"highestBid","type":"uint256"},{"name":"highestBidder","type":"address"},
   {"name":"endTime","type":"uint256"},{"name":"active","type":"bool"}]}]},
 {"type":"function","name":"getSales","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},
   {"name":"seller","type":"address"},{"name":"buyer","type":"address"},
   {"name":"price","type":"uint256"},{"name":"timestamp","type":"uint256"}]}]},
 {"type":"function","name":"loyaltyPoints","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"buyItem","stateMutability":"payable",
  "inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"cancelListing","stateMutability":"nonpayable",
  "inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"listItem","stateMutability":"nonpayable",
  "inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"startAuction","stateMutability":"nonpayable",
  "inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},
   {"name":"minBid","type":"uint256"},{"name":"duration","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"bid","stateMutability":"payable",
  "inputs":[{"name":"auctionId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"endAuction","stateMutability":"nonpayable",
  "inputs":[{"name":"auctionId","type":"uint256"}],"outputs":[]}
]`

const nftABI = `[
 {"type":"function","name":"tokenURI","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"ownerOf","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"tokenCount","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isApprovedForAll","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable",
  "inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

// Tuple layouts returned by the marketplace. Field names follow the ABI
// component names in CamelCase so abi.ConvertType can map them.
type listingTuple struct {
	Nft     common.Address
	TokenId *big.Int
	Seller  common.Address
	Price   *big.Int
}

type auctionTuple struct {
	Nft           common.Address
	TokenId       *big.Int
	Seller        common.Address
	MinBid        *big.Int
	HighestBid    *big.Int
	HighestBidder common.Address
	EndTime       *big.Int
	Active        bool
}

type saleTuple struct {
	Nft       common.Address
	TokenId   *big.Int
	Seller    common.Address
	Buyer     common.Address
	Price     *big.Int
	Timestamp *big.Int
}

var (
	marketplaceSpec = mustParse(marketplaceABI)
	nftSpec         = mustParse(nftABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("ledger: parse abi: %v", err))
	}
	return parsed
}
