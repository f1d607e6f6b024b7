package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"DeadManSwitch/internal/directory"
	"DeadManSwitch/internal/model"
	"DeadManSwitch/internal/repository"
	"DeadManSwitch/pkg/logger"
	"DeadManSwitch/pkg/token"
)

const dueTimeLayout = "2006-01-02 15:04"

// Composer 渲染通知标题和正文
type Composer struct {
	publicURL string
}

func NewComposer(publicURL string) *Composer {
	return &Composer{publicURL: strings.TrimRight(publicURL, "/")}
}

func (c *Composer) Reminder(sw *model.Switch, d int) (string, string) {
	subject := fmt.Sprintf("Check-in Reminder: %d days remaining", d)
	body := fmt.Sprintf(
		"Your Dead Man's Switch check-in is due in %d days. Please check in before %s UTC to avoid triggering the switch.",
		d, sw.NextCheckInDueDate.UTC().Format(dueTimeLayout),
	)
	return subject, body
}

func (c *Composer) Overdue(sw *model.Switch) (string, string) {
	subject := "URGENT: Dead Man's Switch Overdue - Grace Period Started"
	body := fmt.Sprintf(
		"Your Dead Man's Switch check-in was overdue. A %d-day grace period has started. "+
			"Please check in immediately to avoid triggering the switch and notifying your heirs.",
		sw.GracePeriodDays,
	)
	return subject, body
}

func (c *Composer) SwitchTriggered(sw *model.Switch, heirName, ownerEmail string) (string, string) {
	if heirName == "" {
		heirName = "beneficiary"
	}
	owner := ownerEmail
	if owner == "" {
		owner = "The account holder"
	}
	subject := "Digital Inheritance Notification"
	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"This is an automated notification from the Digital Vault system.\n\n"+
			"%s has designated you as an heir. Their Dead Man's Switch has been triggered after %d days without check-in.\n\n"+
			"You now have access to the vault entries they shared with you. Please log in to the Digital Vault to access your inheritance.",
		heirName, owner, sw.CheckInIntervalDays+sw.GracePeriodDays,
	)
	return subject, body
}

// WithCheckInLink 在正文后附上一键签到链接
func (c *Composer) WithCheckInLink(body, linkToken string) string {
	if linkToken == "" || c.publicURL == "" {
		return body
	}
	return body + "\n\nCheck in now: " + c.publicURL + "/v1/switch/check-in/link?token=" + url.QueryEscape(linkToken)
}

// OwnerNotice 发给开关所有者的一条通知（提醒或逾期）
type OwnerNotice struct {
	Type      model.NotificationType
	WindowKey string
	Subject   string
	Body      string
}

// OwnerNotifier 按开关配置的每个渠道写一条台账记录，邮件附带签到链接
type OwnerNotifier struct {
	users    directory.UserDirectory
	ledger   *Ledger
	composer *Composer
	links    *token.LinkSigner
}

func NewOwnerNotifier(users directory.UserDirectory, ledger *Ledger, composer *Composer, links *token.LinkSigner) *OwnerNotifier {
	return &OwnerNotifier{users: users, ledger: ledger, composer: composer, links: links}
}

// Notify 返回本次新写入的记录；全部渠道都已记录过时返回空
func (n *OwnerNotifier) Notify(ctx context.Context, tx repository.Store, sw *model.Switch, notice OwnerNotice) ([]*model.NotificationRecord, error) {
	contact, err := n.ownerContact(ctx, sw)
	if err != nil {
		return nil, err
	}

	channels := sw.Channels()
	if len(channels) == 0 {
		channels = model.DefaultNotificationChannels
	}

	created := make([]*model.NotificationRecord, 0, len(channels))
	for _, ch := range channels {
		entry := Entry{
			Switch:        sw,
			Type:          notice.Type,
			WindowKey:     notice.WindowKey,
			Channel:       ch,
			RecipientKind: model.RecipientKindOwner,
			Recipient:     ownerRecipient(sw, contact, ch),
			Subject:       notice.Subject,
			Body:          notice.Body,
		}

		if ch == model.NotificationChannelEmail && n.links != nil {
			link, err := n.links.Issue(sw.ID)
			if err != nil {
				return nil, err
			}
			expires := link.ExpiresAt
			entry.LinkTokenID = link.ID
			entry.LinkExpiresAt = &expires
			entry.Body = n.composer.WithCheckInLink(notice.Body, link.Token)
		}

		rec, inserted, err := n.ledger.Record(ctx, tx, entry)
		if err != nil {
			return nil, err
		}
		if inserted {
			created = append(created, rec)
		}
	}
	return created, nil
}

func (n *OwnerNotifier) ownerContact(ctx context.Context, sw *model.Switch) (directory.Contact, error) {
	if n.users == nil {
		return directory.Contact{}, nil
	}
	contact, err := n.users.Contact(ctx, sw.UserID)
	if err != nil {
		// 用户目录不可用时仍写台账，收件人缺失会在投递时标记失败
		logger.Logger.Warn("Failed to load owner contact",
			zap.Int64("switch_id", sw.ID),
			zap.Int64("user_id", sw.UserID),
			zap.Error(err),
		)
		return directory.Contact{}, nil
	}
	return contact, nil
}

// ownerRecipient 紧急联系方式优先于账户资料
func ownerRecipient(sw *model.Switch, c directory.Contact, ch model.NotificationChannel) string {
	switch ch {
	case model.NotificationChannelEmail:
		if sw.EmergencyEmail != "" {
			return sw.EmergencyEmail
		}
		return c.Email
	case model.NotificationChannelSMS, model.NotificationChannelPhoneCall:
		if sw.EmergencyPhone != "" {
			return sw.EmergencyPhone
		}
		return c.Phone
	case model.NotificationChannelPush:
		return "user:" + strconv.FormatInt(sw.UserID, 10)
	default:
		return ""
	}
}
