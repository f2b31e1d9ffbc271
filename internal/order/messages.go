package order

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-order-bot/internal/chat"
	"github.com/tbourn/go-order-bot/internal/domain"
)

// Callback tokens carried by inline buttons.
const (
	tokenSelectPrefix = "select_"
	tokenRegenerate   = "regenerate"
	tokenDone         = "done"
)

const currency = "₹"

var (
	titleCaser = cases.Title(language.English)
	upperCaser = cases.Upper(language.English)
)

var categoryIcons = map[domain.Category]string{
	domain.CategoryCV:   "📄",
	domain.CategoryArt:  "🎨",
	domain.CategoryLogo: "🏆",
}

const (
	msgWelcome         = "Hey! Welcome to AlphaZone.\n\nChoose what you need:"
	msgSelectProduct   = "Select the type you want:"
	msgPreviewReady    = "Here is your preview.\n\nSelect an option:"
	msgChooseOption    = "Choose an option:"
	msgRegenerated     = "New preview generated."
	msgPaymentVerified = "Payment verified! Here's your final product:"
	msgNotReady        = "The designer is not online yet. Please try again in a few minutes."
	msgGenerationError = "Something went wrong while creating your image. Please try the same step again."
	msgLedgerDelayed   = "Your payment was received. We are finishing the paperwork and the operator will contact you shortly."
	msgEmptyDesc       = "Please describe your idea in a text message."
	msgDescTooLong     = "That description is too long. Please keep it shorter."
	msgUnauthorized    = "Only the operator can change the generation endpoint."
	msgUnknownCommand  = "Unknown command. Send /start to begin a new order."
)

// categoryLabel renders a category for buttons: short ids are acronyms.
func categoryLabel(c domain.Category) string {
	s := string(c)
	if len(s) <= 2 {
		s = upperCaser.String(s)
	} else {
		s = titleCaser.String(s)
	}
	if icon, ok := categoryIcons[c]; ok {
		return icon + " " + s
	}
	return s
}

func categoryMenu(cat *domain.Catalog) chat.Keyboard {
	kb := chat.Keyboard{}
	for _, c := range cat.Categories() {
		kb = append(kb, []chat.Button{{Label: categoryLabel(c), Data: string(c)}})
	}
	return kb
}

func productMenu(products []domain.Product) chat.Keyboard {
	kb := make(chat.Keyboard, 0, len(products))
	for _, p := range products {
		kb = append(kb, []chat.Button{{Label: p.Label, Data: tokenSelectPrefix + p.ID}})
	}
	return kb
}

func decisionMenu() chat.Keyboard {
	return chat.Keyboard{
		{{Label: "🔄 Regenerate", Data: tokenRegenerate}},
		{{Label: "✅ Done", Data: tokenDone}},
	}
}

func formatAmount(amount int64) string {
	return fmt.Sprintf("%s%d", currency, amount)
}

func sampleCaption(p domain.Product) string {
	return fmt.Sprintf("%s\nPrice: %s", p.Label, formatAmount(p.Price))
}

func descriptionPrompt(p domain.Product) string {
	if p.IsCV() {
		return upperCaser.String("Kindly provide your details") + "\n\nYour details won't be saved, don't worry."
	}
	return upperCaser.String("Briefly describe your idea for the product.")
}

func paymentInstructions(amount int64, address string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please make a payment of %s", formatAmount(amount))
	if address != "" {
		fmt.Fprintf(&b, "\n\nPayment address: %s", address)
	}
	b.WriteString("\n\nOnce done, send a screenshot.")
	return b.String()
}

func paymentRejected(amount int64) string {
	return fmt.Sprintf("The payment could not be verified against the price of %s. Kindly check and send the screenshot again.", formatAmount(amount))
}

func operatorNotice(tx *domain.Transaction) string {
	return fmt.Sprintf("New order %s\nUser: %s\nProduct: %s\nAmount: %s", tx.ID, tx.UserID, tx.ProductID, formatAmount(tx.Amount))
}

func operatorLedgerAlert(tx *domain.Transaction, err error) string {
	return fmt.Sprintf("LEDGER WRITE FAILED: %v\nid=%s user=%s chat=%s product=%s amount=%d proof=%s created_at=%s",
		err, tx.ID, tx.UserID, tx.ChatID, tx.ProductID, tx.Amount, tx.ProofRef, tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
}

func endpointUpdated(addr string) string {
	return "Generation endpoint set to " + addr
}

func endpointInvalid(suffix string) string {
	return fmt.Sprintf("That is not a valid endpoint. Send an http(s) URL ending in %s.", suffix)
}

// hint is the reply to an event that is not valid in state s.
func hint(s State) string {
	switch s {
	case StateAwaitingSelection:
		return "Please pick one of the options shown above."
	case StateAwaitingDescription:
		return "Please describe what you want in a text message."
	case StateAwaitingDecision:
		return "Press Regenerate for a new preview or Done to proceed to payment."
	case StateAwaitingPaymentProof:
		return "Please send a screenshot of your payment."
	default:
		return "Sorry, I didn't understand that. Send /start to see what we offer."
	}
}
