package posts

type Post struct {
	ID            int      `json:"id"`
	Title         string   `json:"title"`
	Slug          string   `json:"slug"`
	Excerpt       string   `json:"excerpt"`
	Content       string   `json:"content"`
	FeaturedImage string   `json:"featured_image"`
	PublishedDate string   `json:"published_date"`
	UpdatedDate   string   `json:"updated_date"`
	Tags          []string `json:"tags"`
}

type Pagination struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	Limit    int `json:"limit"`
	LastPage int `json:"lastPage"`
}

type PostsData struct {
	Posts      []Post     `json:"posts"`
	Pagination Pagination `json:"pagination"`
	Timestamp  *float64   `json:"timestamp,omitempty"`
	Status     string     `json:"status,omitempty"`
}

// PostResponse is the body of the single-post endpoint.
type PostResponse struct {
	Post   *Post  `json:"post,omitempty"`
	Status string `json:"status,omitempty"`
}

func emptyData() PostsData {
	return PostsData{
		Posts: []Post{},
		Pagination: Pagination{
			Total:    0,
			Page:     1,
			Limit:    10,
			LastPage: 1,
		},
	}
}
