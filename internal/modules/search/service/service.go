package search

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"anoa.com/fellowship/internal/entity"
	"github.com/meilisearch/meilisearch-go"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const discussionsIndex = "discussions"

type SearchService interface {
	IndexDiscussion(d *entity.Discussion) error
	DeleteDiscussion(id string) error
	SearchDiscussions(query Query) (*Result, error)
}

type Query struct {
	Text   string
	Tag    string
	Limit  int64
	Offset int64
}

type Hit struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Tags         []string `json:"tags"`
	AuthorID     string   `json:"author_id"`
	AuthorName   string   `json:"author_name"`
	Likes        int      `json:"likes"`
	CommentCount int      `json:"comment_count"`
	CreatedAt    int64    `json:"created_at"`
}

type Result struct {
	Hits  []Hit `json:"hits"`
	Total int64 `json:"estimatedTotalHits"`
}

type meiliSearchService struct {
	client    meilisearch.ServiceManager
	sanitizer *bluemonday.Policy
	log       *zap.Logger
}

func NewMeiliSearchService(client meilisearch.ServiceManager, log *zap.Logger) SearchService {
	s := &meiliSearchService{
		client:    client,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log,
	}
	s.initIndexes()
	return s
}

func (s *meiliSearchService) initIndexes() {
	filterable := []any{"tags", "author_id"}
	if _, err := s.client.Index(discussionsIndex).UpdateFilterableAttributes(&filterable); err != nil {
		s.log.Warn("failed to update discussions filterable attributes", zap.Error(err))
	}

	sortable := []string{"created_at", "likes"}
	if _, err := s.client.Index(discussionsIndex).UpdateSortableAttributes(&sortable); err != nil {
		s.log.Warn("failed to update discussions sortable attributes", zap.Error(err))
	}
}

func (s *meiliSearchService) cleanContentForIndex(content string) string {
	for _, tag := range []string{"</p>", "<br>", "</div>"} {
		content = strings.ReplaceAll(content, tag, " ")
	}
	clean := html.UnescapeString(s.sanitizer.Sanitize(content))
	return strings.Join(strings.Fields(clean), " ")
}

func (s *meiliSearchService) IndexDiscussion(d *entity.Discussion) error {
	doc := Hit{
		ID:           d.ID,
		Title:        d.Title,
		Content:      s.cleanContentForIndex(d.Content),
		Tags:         d.Tags,
		AuthorID:     d.AuthorID,
		AuthorName:   d.AuthorName,
		Likes:        d.Likes,
		CommentCount: d.CommentCount,
		CreatedAt:    d.CreatedAt.Unix(),
	}

	task, err := s.client.Index(discussionsIndex).AddDocuments([]Hit{doc}, strPtr("id"))
	if err != nil {
		return err
	}
	s.log.Debug("indexed discussion", zap.String("discussion_id", d.ID), zap.Int64("task_uid", task.TaskUID))
	return nil
}

func (s *meiliSearchService) DeleteDiscussion(id string) error {
	_, err := s.client.Index(discussionsIndex).DeleteDocument(id)
	return err
}

func (s *meiliSearchService) SearchDiscussions(q Query) (*Result, error) {
	req := &meilisearch.SearchRequest{
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if q.Tag != "" {
		req.Filter = fmt.Sprintf("tags = %q", q.Tag)
	}

	raw, err := s.client.Index(discussionsIndex).SearchRaw(q.Text, req)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(*raw, &res); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if res.Hits == nil {
		res.Hits = []Hit{}
	}
	return &res, nil
}

func strPtr(s string) *string {
	return &s
}
