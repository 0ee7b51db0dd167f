package catalog

// SampleUsers are the users of the sample catalog. One has no country.
func SampleUsers() []User {
	return []User{
		{
			Name:    "Maria Garcia",
			Email:   "maria.garcia@email.com",
			Country: "Mexico",
			ViewingHistory: []ViewingHistoryEntry{
				{Title: "The Dark Knight", ViewingDate: "2024-02-01T20:00:00Z", WatchedTime: 152, Completed: true},
				{Title: "Coco", ViewingDate: "2024-02-04T18:30:00Z", WatchedTime: 105, Completed: true},
			},
		},
		{
			Name:    "Carlos Rodriguez",
			Email:   "carlos.rodriguez@email.com",
			Country: "Argentina",
			ViewingHistory: []ViewingHistoryEntry{
				{Title: "Stranger Things", ViewingDate: "2024-02-03T22:00:00Z", WatchedTime: 50, Completed: true},
			},
		},
		{
			Name:    "Ana Martinez",
			Email:   "ana.martinez@email.com",
			Country: "Colombia",
		},
		{
			Name:    "John Smith",
			Email:   "john.smith@email.com",
			Country: "USA",
			ViewingHistory: []ViewingHistoryEntry{
				{Title: "Inception", ViewingDate: "2024-01-28T21:00:00Z", WatchedTime: 148, Completed: true},
				{Title: "Planet Earth II", ViewingDate: "2024-02-05T19:00:00Z", WatchedTime: 60, Completed: false},
			},
		},
		{
			Name:  "Sophie Laurent",
			Email: "sophie.laurent@email.com",
		},
	}
}

// SampleContent is the media content of the sample catalog
func SampleContent() []MediaContent {
	return []MediaContent{
		{
			Title:         "The Dark Knight",
			Type:          ContentTypeMovie,
			Genres:        []string{"Action", "Crime", "Drama"},
			AverageRating: 4.9,
			TotalRatings:  45000,
			DateAdded:     "2023-06-15T00:00:00Z",
		},
		{
			Title:         "Stranger Things",
			Type:          ContentTypeSeries,
			Genres:        []string{"Drama", "Fantasy", "Horror", "Sci-Fi"},
			AverageRating: 4.7,
			TotalRatings:  38000,
			DateAdded:     "2024-01-10T00:00:00Z",
		},
		{
			Title:         "Inception",
			Type:          ContentTypeMovie,
			Genres:        []string{"Action", "Sci-Fi", "Thriller"},
			AverageRating: 4.8,
			TotalRatings:  41000,
			DateAdded:     "2024-01-20T00:00:00Z",
		},
		{
			Title:         "Coco",
			Type:          ContentTypeMovie,
			Genres:        []string{"Animation", "Family", "Fantasy"},
			AverageRating: 4.6,
			TotalRatings:  18000,
			DateAdded:     "2023-11-02T00:00:00Z",
		},
		{
			Title:         "Planet Earth II",
			Type:          ContentTypeDocumentary,
			Genres:        []string{"Documentary", "Nature"},
			AverageRating: 4.9,
			TotalRatings:  12000,
			DateAdded:     "2024-02-01T00:00:00Z",
		},
	}
}

// SampleRatings are the ratings of the sample catalog
func SampleRatings() []Rating {
	return []Rating{
		{
			Rating:       5,
			Comment:      "Incredible movie, Christopher Nolan's masterpiece!",
			RatingDate:   "2024-02-05T20:00:00Z",
			HelpfulVotes: 15,
			Spoiler:      false,
		},
		{
			Rating:       4,
			Comment:      "Great series, very addictive",
			RatingDate:   "2024-02-03T22:30:00Z",
			HelpfulVotes: 8,
			Spoiler:      false,
		},
	}
}

// SamplePlaylists are the playlists of the sample catalog
func SamplePlaylists() []Playlist {
	return []Playlist{
		{
			Name:         "Action Movie Night",
			CreationDate: "2024-02-01T18:00:00Z",
			Description:  "Best action movies for weekend",
			Public:       true,
			Contents: []PlaylistItem{
				{Title: "The Dark Knight", DateAdded: "2024-02-01T18:05:00Z", Order: 1},
			},
			TotalContents: 1,
			Followers:     5,
		},
		{
			Name:         "Sci-Fi Collection",
			CreationDate: "2024-02-02T19:00:00Z",
			Description:  "Mind-bending science fiction",
			Public:       false,
			Contents: []PlaylistItem{
				{Title: "Stranger Things", DateAdded: "2024-02-02T19:10:00Z", Order: 1},
			},
			TotalContents: 1,
			Followers:     2,
		},
	}
}

// SampleInteractions are the interactions of the sample catalog. The last
// one predates 2024 and is removed by the remove_old_interactions operation.
func SampleInteractions() []Interaction {
	return []Interaction{
		{
			InteractionType: InteractionLike,
			InteractionDate: "2024-02-06T21:00:00Z",
			Active:          true,
		},
		{
			InteractionType: InteractionComment,
			InteractionDate: "2024-02-07T20:30:00Z",
			SpecificEpisode: &SpecificEpisode{Season: 1, EpisodeNumber: 1},
			Comment:         "Amazing pilot episode!",
			Active:          true,
		},
		{
			InteractionType: InteractionShare,
			InteractionDate: "2023-11-20T12:00:00Z",
			Active:          false,
		},
	}
}
