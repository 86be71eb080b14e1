package main

import (
	"bufio"
	"chat-core/auth"
	"chat-core/infrastructure/grpc/client"
	"chat-core/infrastructure/grpc/wire"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
)

// Interactive client: each stdin line "<conversation> <text>" is sent, every frame received is printed.
// Received messages are acknowledged as delivered; "/read <conversation> <id>" marks one as read.
func main() {
	addr := flag.String("addr", "localhost:50051", "Gateway address")
	identity := flag.String("identity", "", "Identity to connect as (needs -secret)")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret used to mint a token")
	issuer := flag.String("issuer", "chat-core", "JWT issuer")
	credential := flag.String("credential", "", "Raw credential, e.g. sa:<identity>:<secret>")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "Heartbeat period")
	flag.Parse()

	if *credential == "" {
		token, err := auth.GenerateToken(*identity, time.Hour, []byte(*secret), *issuer)
		if err != nil {
			log.Fatalf("Unable to mint token: %v", err)
		}
		*credential = token
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := client.New(*addr, *credential)
	if err != nil {
		log.Fatalf("Unable to connect: %v", err)
	}
	defer func() { _ = c.Close() }()
	session, err := c.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to open stream: %v", err)
	}

	go func() {
		ticker := time.NewTicker(*heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := session.Heartbeat(); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer stop()
		for {
			frame, err := session.Recv()
			if err != nil {
				color.Red.Printf("stream closed: %v\n", err)
				return
			}
			printFrame(frame)
			if frame.Type == wire.TypeMessage {
				_ = session.AckDelivered(frame.Message.ConversationID, frame.Message.ID)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				_ = session.Close()
				return
			}
			if err := handleLine(session, line); err != nil {
				color.Yellow.Println(err)
			}
		}
	}
}

func handleLine(session *client.Session, line string) error {
	if rest, ok := strings.CutPrefix(line, "/read "); ok {
		var conversation string
		var id uint64
		if _, err := fmt.Sscanf(rest, "%s %d", &conversation, &id); err != nil {
			return fmt.Errorf("usage: /read <conversation> <id>")
		}
		return session.AckRead(conversation, id)
	}
	conversation, text, ok := strings.Cut(line, " ")
	if !ok || text == "" {
		return fmt.Errorf("usage: <conversation> <text>")
	}
	return session.SendMessage(conversation, text, uuid.NewString()[:8])
}

func printFrame(frame *wire.ServerFrame) {
	switch frame.Type {
	case wire.TypeMessage:
		m := frame.Message
		color.Green.Printf("[%s #%d] %s: %s\n", m.ConversationID, m.ID, m.Sender, m.Payload)
	case wire.TypeSent:
		color.Gray.Printf("sent %s -> #%d\n", frame.Sent.ClientRef, frame.Sent.MessageID)
	case wire.TypePresence:
		color.Cyan.Printf("%s is %s (last seen %s)\n", frame.Presence.Identity, frame.Presence.State, frame.Presence.LastSeen.Format(time.Kitchen))
	case wire.TypeError:
		color.Red.Printf("error %s: %s\n", frame.Error.Code, frame.Error.Reason)
	}
}
