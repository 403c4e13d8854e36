package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/chatclient"
	"chat-relay/pkg/logger"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "chat server base URL")
	username := flag.String("user", os.Getenv("CHAT_USER"), "username")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "password")
	register := flag.Bool("register", false, "create the account before logging in")
	retryDelay := flag.Duration("retry", chatclient.DefaultRetryDelay, "delay before reconnecting")
	maxAttempts := flag.Int("max-attempts", 0, "consecutive failed connection attempts before giving up (0 = unlimited)")
	cookieName := flag.String("cookie", "token", "session cookie name")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Init(*logLevel)
	defer logger.Sync()

	if *username == "" || *password == "" {
		logger.Fatal("Both -user and -password are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	account, err := chatclient.NewAccount(*serverURL)
	if err != nil {
		logger.Fatal("Invalid server URL: %v", err)
	}

	var me *models.LoginResponse
	if *register {
		me, err = account.Register(ctx, *username, *password)
	} else {
		me, err = account.Login(ctx, *username, *password)
	}
	if err != nil {
		logger.Fatal("Authentication failed: %v", err)
	}
	logger.Info("Logged in as %s (%s)", me.Username, me.ID)

	dialer := &chatclient.WebSocketDialer{URL: account.WebSocketURL(), CookieName: *cookieName}
	client := chatclient.New(dialer, account.Credential, chatclient.Options{
		RetryDelay:  *retryDelay,
		MaxAttempts: *maxAttempts,
		OnPresence: func(online models.PresenceSnapshot) {
			var names []string
			for _, u := range online.Online() {
				if u.UserID != me.ID {
					names = append(names, fmt.Sprintf("%s (%s)", u.DisplayName, u.UserID))
				}
			}
			fmt.Printf("* online: %s\n", strings.Join(names, ", "))
		},
		OnMessage: func(msg models.Message) {
			fmt.Printf("[%s] %s -> %s: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), msg.SenderID, msg.RecipientID, msg.Text)
		},
		OnError: func(frame models.ErrorFrame) {
			fmt.Printf("! %s: %s\n", frame.Error, frame.Detail)
		},
		OnStateChange: func(state chatclient.State) {
			logger.Debug("Connection state: %s", state)
		},
	})

	if err := client.Start(ctx); err != nil {
		logger.Warn("Initial connection failed, retrying: %v", err)
	}

	fmt.Println("Type '<recipientId> <message>' to send, '/logout' to quit.")
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
			client.Logout()
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/logout" {
				client.Logout()
				if err := account.Logout(context.Background()); err != nil {
					logger.Warn("Logout request failed: %v", err)
				}
				return
			}
			recipient, text, found := strings.Cut(strings.TrimSpace(line), " ")
			if !found {
				fmt.Println("! usage: <recipientId> <message>")
				continue
			}
			if err := client.Send(models.InboundFrame{RecipientID: recipient, Text: text}); err != nil {
				fmt.Printf("! not sent: %v\n", err)
			}
		}
	}
}
