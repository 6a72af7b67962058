package report

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
)

// Interactive control identifiers round-tripped through the UI.
const (
	ActionCreateRecord   = "create_record"
	ActionOpenFileMaker  = "open_record"
	ActionDeleteMessages = "delete_messages"

	summaryBlockID = "summary_actions"
)

// cardBlocks renders one extracted card. A duplicate-flagged card
// gets a warning and a create button carrying the action token.
func cardBlocks(o pipeline.Outcome, dest Destination) []slack.Block {
	res := o.Data

	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText(":bookmark: " + o.FileName)),
	}
	// Slack allows at most 10 fields per section.
	for _, fields := range Chunk(cardFields(res.Record), 10) {
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	if res.MayBeDuplicate {
		blocks = append(blocks, slack.NewSectionBlock(
			markdown(":warning: *同姓同名のレコードが既に存在する可能性があります。*\nレコードは作成されていません。内容を確認のうえ、作成する場合はボタンを押してください。"),
			nil, nil,
		))

		tok := pipeline.NewActionToken(res.Record, dest.ChannelID, dest.ThreadTS)
		if value, err := tok.Encode(); err == nil {
			create := slack.NewButtonBlockElement(ActionCreateRecord, value, plainText("レコードを作成する"))
			create.Style = slack.StylePrimary
			blocks = append(blocks, slack.NewActionBlock("", create))
		}
	}

	blocks = append(blocks, slack.NewDividerBlock())
	return blocks
}

// cardFields renders the non-empty record fields as mrkdwn pairs.
func cardFields(r card.Record) []*slack.TextBlockObject {
	pairs := []struct{ label, value string }{
		{"氏名", r.DisplayName()},
		{"会社名", r.Company},
		{"部署", r.Department},
		{"役職", r.JobTitle},
		{"電話", r.Tel},
		{"電話2", r.Tel2},
		{"携帯", r.TelMobile},
		{"FAX", r.Fax},
		{"メール", r.Email},
		{"メール2", r.Email2},
		{"URL", r.CompanyURL},
		{"郵便番号", r.ZipCode},
		{"住所", strings.TrimSpace(r.Address1 + " " + r.Address2)},
	}

	var fields []*slack.TextBlockObject
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		fields = append(fields, markdown(fmt.Sprintf("*%s*\n%s", p.label, p.value)))
	}
	if len(fields) == 0 {
		fields = append(fields, markdown("_読み取れた項目がありません_"))
	}
	return fields
}

// failureBlocks lists failed items with their reasons.
func failureBlocks(failures []pipeline.Outcome) []slack.Block {
	var lines []string
	for _, f := range failures {
		lines = append(lines, fmt.Sprintf("• *%s*\n>%s", f.FileName, f.Err))
	}

	return []slack.Block{
		slack.NewHeaderBlock(plainText("❌ 解析失敗")),
		slack.NewSectionBlock(markdown(strings.Join(lines, "\n\n")), nil, nil),
	}
}

// summaryBlocks renders the aggregate report with follow-up actions.
func summaryBlocks(sum pipeline.Summary, dest Destination, openFileURL string) []slack.Block {
	text := fmt.Sprintf("*処理完了レポート*\n合計: %d枚 / 成功: %d件 / 失敗: %d件",
		sum.Total, sum.SuccessCount, sum.FailureCount)
	if len(sum.Deferred) > 0 {
		text += fmt.Sprintf("\n:warning: 重複の可能性により保留: %d件", len(sum.Deferred))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(markdown(text), nil, nil),
	}

	routing := fmt.Sprintf(`{"channelId":%q,"threadTs":%q}`, dest.ChannelID, dest.ThreadTS)
	deleteBtn := slack.NewButtonBlockElement(ActionDeleteMessages, routing, plainText("メッセージを削除"))
	deleteBtn.Style = slack.StyleDanger

	elements := []slack.BlockElement{deleteBtn}
	if openFileURL != "" {
		openBtn := slack.NewButtonBlockElement(ActionOpenFileMaker, "open", plainText("FileMakerで開く"))
		openBtn.URL = openFileURL
		elements = append([]slack.BlockElement{openBtn}, elements...)
	}
	blocks = append(blocks, slack.NewActionBlock(summaryBlockID, elements...))

	return blocks
}

func errorBlocks(message string) []slack.Block {
	return []slack.Block{
		slack.NewHeaderBlock(plainText("⚠️ システムエラー")),
		slack.NewSectionBlock(markdown(message), nil, nil),
	}
}

func createdBlocks(rec card.Record) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			markdown(":white_check_mark: *レコードを作成しました*: "+rec.DisplayName()),
			nil, nil,
		),
	}
}

func plainText(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, true, false)
}

func markdown(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}
