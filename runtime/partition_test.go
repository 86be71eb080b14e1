package runtime

import (
	"chat-core/domain"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConversationLocks_Busy_Conversation_Does_Not_Block_Another(t *testing.T) {
	locks := NewConversationLocks()

	// Given c1 held for as long as a stuck fan-out would hold it
	unlockC1 := locks.Lock("c1")
	defer unlockC1()

	// When any other conversation locks
	acquired := make(chan struct{})
	go func() {
		for i := 0; i < 512; i++ {
			unlock := locks.Lock(conversationName(i))
			unlock()
		}
		close(acquired)
	}()

	// Then none of them waits on c1
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("an unrelated conversation waited on c1")
	}
}

func TestConversationLocks_Same_Conversation_Is_Serialized(t *testing.T) {
	req := require.New(t)
	locks := NewConversationLocks()

	unlock := locks.Lock("c1")
	second := make(chan struct{})
	go func() {
		defer close(second)
		locks.Lock("c1")()
	}()

	select {
	case <-second:
		t.Fatal("second holder entered while c1 was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-second
	req.Zero(locks.Len())
}

func TestConversationLocks_Released_Locks_Are_Forgotten(t *testing.T) {
	req := require.New(t)
	locks := NewConversationLocks()

	// When many goroutines lock many conversations
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := locks.Lock(conversationName(i % 20))
			unlock()
		}(i)
	}
	wg.Wait()

	// Then nothing is retained once everyone released
	req.Zero(locks.Len())
}

// conversationName never yields "c1".
func conversationName(i int) domain.ConversationID {
	return domain.ConversationID(fmt.Sprintf("c%d", i+2))
}
