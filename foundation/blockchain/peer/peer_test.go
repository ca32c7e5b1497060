package peer_test

import (
	"testing"
	"time"

	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_PeerSet(t *testing.T) {
	t.Log("Given the need to maintain a set of known peers.")
	{
		t.Logf("\tTest 0:\tWhen adding and removing peers.")
		{
			ps := peer.NewPeerSet()
			p1 := peer.New("127.0.0.1", 9001)
			p2 := peer.New("127.0.0.1", 9002)

			if !ps.Add(p1) {
				t.Fatalf("\t%s\tTest 0:\tShould report a new peer as added.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould report a new peer as added.", success)

			if ps.Add(p1) {
				t.Fatalf("\t%s\tTest 0:\tShould be idempotent for a known peer.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould be idempotent for a known peer.", success)

			ps.Add(p2)
			if ps.Count() != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould count both peers: got %d", failed, ps.Count())
			}
			t.Logf("\t%s\tTest 0:\tShould count both peers.", success)

			peers := ps.Copy(p1)
			if len(peers) != 1 || !peers[0].Match(p2) {
				t.Fatalf("\t%s\tTest 0:\tShould exclude the specified peer from a copy.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould exclude the specified peer from a copy.", success)

			ps.Remove(p1)
			if ps.Contains(p1) || ps.Count() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould remove a peer.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould remove a peer.", success)
		}

		t.Logf("\tTest 1:\tWhen recording liveness traffic.")
		{
			ps := peer.NewPeerSet()
			p := peer.New("127.0.0.1", 9001)
			ps.Add(p)

			if _, exists := ps.LastPingSent(p); exists {
				t.Fatalf("\t%s\tTest 1:\tShould start with no ping recorded.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould start with no ping recorded.", success)

			ping := time.Now()
			pong := ping.Add(50 * time.Millisecond)
			ps.RecordPingSent(p, ping)
			ps.RecordPongReceived(p, pong)

			gotPing, _ := ps.LastPingSent(p)
			gotPong, _ := ps.LastPongReceived(p)
			if !gotPing.Equal(ping) || !gotPong.Equal(pong) {
				t.Fatalf("\t%s\tTest 1:\tShould return the recorded times.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould return the recorded times.", success)

			ps.Remove(p)
			if _, exists := ps.LastPongReceived(p); exists {
				t.Fatalf("\t%s\tTest 1:\tShould drop the bookkeeping with the peer.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould drop the bookkeeping with the peer.", success)
		}
	}
}
