package directory

// LatLng is a geographic coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// nominatimResult is one entry of a Nominatim /search response. Coordinates
// arrive as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// nearbySearchResponse is the Places Nearby Search payload.
type nearbySearchResponse struct {
	Results       []placeResult `json:"results"`
	Status        string        `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type placeResult struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
}

// detailsResponse is the Place Details payload.
type detailsResponse struct {
	Result       placeDetails `json:"result"`
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

type placeDetails struct {
	Name                     string `json:"name"`
	FormattedAddress         string `json:"formatted_address"`
	InternationalPhoneNumber string `json:"international_phone_number"`
	Website                  string `json:"website"`
}

// textSearchRequest is the Places Text Search (New) request body.
type textSearchRequest struct {
	TextQuery    string `json:"textQuery"`
	PageSize     int    `json:"pageSize,omitempty"`
	IncludedType string `json:"includedType,omitempty"`
	PageToken    string `json:"pageToken,omitempty"`
}

type textSearchResponse struct {
	Places        []newPlace `json:"places"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
}

type newPlace struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress         string `json:"formattedAddress"`
	InternationalPhoneNumber string `json:"internationalPhoneNumber"`
	WebsiteURI               string `json:"websiteUri"`
}

func (p newPlace) details() *placeDetails {
	return &placeDetails{
		Name:                     p.DisplayName.Text,
		FormattedAddress:         p.FormattedAddress,
		InternationalPhoneNumber: p.InternationalPhoneNumber,
		Website:                  p.WebsiteURI,
	}
}

// candidate is a place id awaiting processing. details is set when the
// search already returned them.
type candidate struct {
	placeID string
	details *placeDetails
}
