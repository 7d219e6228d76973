package realtime

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomIndex_JoinLeave(t *testing.T) {
	r := NewRoomIndex()

	assert.True(t, r.Join("s1", "general"))
	assert.False(t, r.Join("s1", "general"))
	assert.True(t, r.Join("s2", "general"))
	assert.Equal(t, 2, r.Size("general"))

	assert.True(t, r.Leave("s1", "general"))
	assert.False(t, r.Leave("s1", "general"))
	assert.False(t, r.Leave("s1", "missing"))
	assert.True(t, r.Has("general"))

	assert.True(t, r.Leave("s2", "general"))
	assert.False(t, r.Has("general"))
	assert.Equal(t, 0, r.Count())
}

func TestRoomIndex_LeaveAll(t *testing.T) {
	r := NewRoomIndex()
	r.Join("s1", "general")
	r.Join("s1", OrderRoom("O1"))
	r.Join("s2", "general")

	assert.Equal(t, []string{"general", "order:O1"}, r.RoomsOf("s1"))
	assert.Equal(t, []string{"general", "order:O1"}, r.LeaveAll("s1"))

	assert.Empty(t, r.RoomsOf("s1"))
	assert.False(t, r.Has(OrderRoom("O1")))
	assert.Equal(t, []string{"s2"}, r.Members("general"))
	assert.Empty(t, r.LeaveAll("nobody"))
}

func TestRoomIndex_MembersIsACopy(t *testing.T) {
	r := NewRoomIndex()
	r.Join("s1", "general")

	members := r.Members("general")
	members[0] = "mutated"

	assert.Equal(t, []string{"s1"}, r.Members("general"))
	assert.Empty(t, r.Members("missing"))
}

// Replaying random joins and leaves must match a plain set model.
func TestRoomIndex_MatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := NewRoomIndex()
	model := map[string]map[string]bool{}

	rooms := []string{"a", "b", "c"}
	for i := 0; i < 2000; i++ {
		room := rooms[rng.Intn(len(rooms))]
		session := fmt.Sprintf("s%d", rng.Intn(8))

		if rng.Intn(2) == 0 {
			r.Join(session, room)
			if model[room] == nil {
				model[room] = map[string]bool{}
			}
			model[room][session] = true
		} else {
			r.Leave(session, room)
			delete(model[room], session)
			if len(model[room]) == 0 {
				delete(model, room)
			}
		}
	}

	for _, room := range rooms {
		var want []string
		for s := range model[room] {
			want = append(want, s)
		}
		got := r.Members(room)
		sort.Strings(want)
		sort.Strings(got)

		assert.Equal(t, len(want), len(got), room)
		if len(want) > 0 {
			assert.Equal(t, want, got, room)
		}
		assert.Equal(t, len(model[room]) > 0, r.Has(room), room)
	}
}

func TestRoomIndex_Concurrent(t *testing.T) {
	r := NewRoomIndex()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			r.Join(id, "general")
			r.Members("general")
			r.Join(id, ProductRoom("P1"))
			r.LeaveAll(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}
