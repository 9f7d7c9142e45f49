package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row. Rows are applied to the
// underlying ReplyMarkup when Markup is called.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	return i
}

// Markup finalizes the keyboard.
func (i *Inline) Markup() *tele.ReplyMarkup {
	i.rm.Inline(i.rows...)
	return i.rm
}

// Btn creates a callback button carrying raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// URLBtn creates a button that opens a URL instead of firing a callback.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}
