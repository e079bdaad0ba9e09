package state

import "encoding/binary"

var (
	accountPrefix          = []byte("account:")
	giftcardStoreKey       = []byte("giftcard:store")
	giftcardOccupancyKey   = []byte("giftcard:occupancy")
	giftcardRelationPrefix = []byte("giftcard:rel:")
)

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, 0, len(accountPrefix)+len(addr))
	buf = append(buf, accountPrefix...)
	return append(buf, addr[:]...)
}

func giftcardRelationshipKey(sequence uint64) []byte {
	buf := make([]byte, 0, len(giftcardRelationPrefix)+8)
	buf = append(buf, giftcardRelationPrefix...)
	return binary.BigEndian.AppendUint64(buf, sequence)
}
