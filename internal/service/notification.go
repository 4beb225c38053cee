package service

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/telebot.v3"

	"mysterypack/internal/logger"
	"mysterypack/internal/storage"
)

// Sender is the part of *telebot.Bot used for notifications.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// NotificationService sends redemption notices over Telegram. User IDs are
// Telegram user IDs; other IDs are skipped.
type NotificationService struct {
	sender   Sender
	mu       sync.Mutex
	adminIDs []int64
}

// NewNotificationService creates a new notification service
func NewNotificationService(sender Sender, adminIDs []int64) *NotificationService {
	return &NotificationService{sender: sender, adminIDs: adminIDs}
}

// formatGems formats an amount of gems
func formatGems(amount int64) string {
	return fmt.Sprintf("%d gems", amount)
}

// NotifyRedemption tells the owner where their card is. New redemption
// requests are also sent to the admins.
func (s *NotificationService) NotifyRedemption(o *storage.Outcome, prize *storage.Prize) {
	name := o.PrizeID
	if prize != nil {
		name = prize.Name
	}
	name = truncateString(name, 50)

	var message string
	switch o.Status {
	case storage.StatusPendingRedemption:
		message = fmt.Sprintf("📦 Redemption requested for %s.\n\nWe will let you know when it ships.", name)
	case storage.StatusShipped:
		message = fmt.Sprintf("🚚 Your %s has shipped!", name)
	case storage.StatusDelivered:
		message = fmt.Sprintf("✅ Your %s was delivered. Enjoy!", name)
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.send(o.UserID, message)
	if o.Status == storage.StatusPendingRedemption {
		alert := fmt.Sprintf("📬 New redemption\n\nOutcome: %s\nCard: %s\nUser: %s", o.ID, name, o.UserID)
		for _, id := range s.adminIDs {
			s.send(strconv.FormatInt(id, 10), alert)
		}
	}
}

// NotifyResell confirms a resale credit.
func (s *NotificationService) NotifyResell(userID, prizeName string, amount, newBalance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.send(userID, fmt.Sprintf("💰 Sold %s for %s. New balance: %s",
		truncateString(prizeName, 50), formatGems(amount), formatGems(newBalance)))
}

func (s *NotificationService) send(userID, message string) {
	chatID := parseChatID(userID)
	if chatID == 0 {
		logger.Debug(userID, "notification_skipped", "not a telegram user id")
		return
	}
	if _, err := s.sender.Send(&telebot.User{ID: chatID}, message); err != nil {
		logger.Debug(userID, "notification_error", fmt.Sprintf("failed to send notification: %v", err))
		return
	}
	logger.Debug(userID, "notification_sent", truncateString(message, 40))
}

// truncateString truncates a string to maxLen and adds ellipsis if needed
// truncateString shortens s to maxLen runes
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return strings.TrimSpace(string(r[:maxLen-3])) + "..."
}

// parseChatID parses a numeric Telegram ID, returning 0 for anything else
func parseChatID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
