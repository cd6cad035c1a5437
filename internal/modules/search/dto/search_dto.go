package dto

type SearchQuery struct {
	Q      string `form:"q" binding:"max=200"`
	Tag    string `form:"tag" binding:"max=30"`
	Limit  int64  `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int64  `form:"offset" binding:"omitempty,min=0"`
}
