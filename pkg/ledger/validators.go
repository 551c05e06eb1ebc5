package ledger

type CreditPayload struct {
	Amount int    `json:"amount" validate:"required,min=1"`
	Memo   string `json:"memo" mod:"trim" validate:"max=200"`
}

type ListTransactionsQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}
