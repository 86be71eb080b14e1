package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type testConversationSuite struct {
	BaseGrpcSuite
}

func TestConversationSuite(t *testing.T) {
	suite.Run(t, &testConversationSuite{})
}

func (s *testConversationSuite) TestMultiDeviceConversationFlow() {
	conversation := "e2e-" + uuid.NewString()[:8]
	alice, bob := "alice-"+conversation, "bob-"+conversation
	s.CreateConversation(conversation, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alicePhone, err := s.Client(s.T(), "Alice phone", alice).Connect(ctx)
	s.Require().NoError(err)
	aliceLaptop, err := s.Client(s.T(), "Alice laptop", alice).Connect(ctx)
	s.Require().NoError(err)
	bobPhone, err := s.Client(s.T(), "Bob phone", bob).Connect(ctx)
	s.Require().NoError(err)
	// Let the gateway register every stream before sending
	time.Sleep(500 * time.Millisecond)

	var messageID uint64
	s.Run("Step 1: Alice sends from her phone", func() {
		s.Require().NoError(alicePhone.SendMessage(conversation, "hello bob", "ref-1"))
		sent := s.Await(alicePhone, "sent")
		s.Require().Equal("ref-1", sent.Sent.ClientRef)
		messageID = sent.Sent.MessageID
	})

	s.Run("Step 2: Bob and Alice's laptop receive it", func() {
		for _, session := range []struct {
			name string
			recv func() (string, uint64)
		}{
			{"bob", func() (string, uint64) { f := s.Await(bobPhone, "message"); return f.Message.Payload, f.Message.ID }},
			{"alice laptop", func() (string, uint64) { f := s.Await(aliceLaptop, "message"); return f.Message.Payload, f.Message.ID }},
		} {
			payload, id := session.recv()
			s.Require().Equal("hello bob", payload, session.name)
			s.Require().Equal(messageID, id, session.name)
		}
		s.Require().NoError(bobPhone.AckRead(conversation, messageID))
	})

	s.Run("Step 3: History returns the message", func() {
		page, err := s.Client(s.T(), "Bob history", bob).History(ctx, conversation, nil, 10)
		s.Require().NoError(err)
		s.Require().NotEmpty(page.Messages)
		s.Require().Equal(messageID, page.Messages[0].ID)
	})

	s.Run("Step 4: An outsider is refused", func() {
		_, err := s.Client(s.T(), "Mallory history", "mallory").History(ctx, conversation, nil, 10)
		s.Require().Error(err)
	})
}
