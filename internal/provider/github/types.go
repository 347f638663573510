package github

// blameQuery resolves per-line blame of a file at the default branch HEAD,
// including the PR that introduced each blamed commit when GitHub knows it
const blameQuery = `
query($owner: String!, $name: String!, $path: String!) {
  repository(owner: $owner, name: $name) {
    defaultBranchRef {
      target {
        ... on Commit {
          blame(path: $path) {
            ranges {
              startingLine
              endingLine
              commit {
                oid
                url
                author {
                  name
                  user {
                    login
                  }
                }
                associatedPullRequests(first: 1) {
                  nodes {
                    number
                    url
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type blameResponse struct {
	Data struct {
		Repository struct {
			DefaultBranchRef struct {
				Target struct {
					Blame struct {
						Ranges []blameRange `json:"ranges"`
					} `json:"blame"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type blameRange struct {
	StartingLine int         `json:"startingLine"`
	EndingLine   int         `json:"endingLine"`
	Commit       blameCommit `json:"commit"`
}

type blameCommit struct {
	OID    string `json:"oid"`
	URL    string `json:"url"`
	Author struct {
		Name string `json:"name"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"author"`
	AssociatedPullRequests struct {
		Nodes []struct {
			Number int    `json:"number"`
			URL    string `json:"url"`
		} `json:"nodes"`
	} `json:"associatedPullRequests"`
}
