package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/interntest/internal/i18n"
	"github.com/pavelanni/interntest/internal/model"
)

const answerPrefix = "ans:"

// AnswerData encodes an answer tap into callback data.
func AnswerData(questionID, optionID int64) string {
	return fmt.Sprintf("%s%d:%d", answerPrefix, questionID, optionID)
}

// ParseAnswerData decodes callback data produced by AnswerData.
func ParseAnswerData(data string) (questionID, optionID int64, ok bool) {
	rest, found := strings.CutPrefix(data, answerPrefix)
	if !found {
		return 0, 0, false
	}
	q, o, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	questionID, err := strconv.ParseInt(q, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	optionID, err = strconv.ParseInt(o, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return questionID, optionID, true
}

// AnswerKeyboard builds one numbered button per option, two per row.
func AnswerKeyboard(ctx context.Context, questionID int64, options []model.AnswerOption) InlineKeyboardMarkup {
	var rows [][]InlineKeyboardButton
	var row []InlineKeyboardButton
	for i, o := range options {
		row = append(row, InlineKeyboardButton{
			Text:         i18n.Td(ctx, "OptionButton", map[string]any{"N": i + 1}),
			CallbackData: AnswerData(questionID, o.ID),
		})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return InlineKeyboardMarkup{InlineKeyboard: rows}
}
