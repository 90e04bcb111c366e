package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"marketpipe/internal/source"

	gdrive "google.golang.org/api/drive/v3"
	goption "google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Tree reads source units from a Google Drive folder, recursively. The
// cache folder (by ID) is excluded so partition spreadsheets are never
// picked up as inputs.
type Tree struct {
	svc             *gdrive.Service
	rootFolderID    string
	excludeFolderID string
}

var _ source.Tree = (*Tree)(nil)

// NewService initializes a Drive service with the same Service Account
// credential sources as the Sheets client.
func NewService(ctx context.Context) (*gdrive.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gdrive.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gdrive.DriveReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}

func New(svc *gdrive.Service, rootFolderID, excludeFolderID string) (*Tree, error) {
	if strings.TrimSpace(rootFolderID) == "" {
		return nil, errors.New("missing drive root folder id")
	}
	return &Tree{svc: svc, rootFolderID: rootFolderID, excludeFolderID: excludeFolderID}, nil
}

func (t *Tree) List(ctx context.Context) ([]source.File, error) {
	var files []source.File
	queue := []string{t.rootFolderID}

	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]

		pageToken := ""
		for {
			call := t.svc.Files.List().
				Q(fmt.Sprintf("'%s' in parents and trashed = false", folderID)).
				Fields("nextPageToken, files(id, name, mimeType)").
				PageSize(1000).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				return nil, fmt.Errorf("list drive folder %s: %w", folderID, err)
			}

			for _, f := range resp.Files {
				switch {
				case f.MimeType == folderMimeType:
					if f.Id == t.excludeFolderID {
						slog.DebugContext(ctx, "Skipping cache folder", "folder_id", f.Id)
						continue
					}
					queue = append(queue, f.Id)
				case strings.EqualFold(f.MimeType, "text/csv"),
					strings.HasSuffix(strings.ToLower(f.Name), ".csv"):
					files = append(files, source.File{ID: f.Id, Name: f.Name})
				}
			}

			pageToken = resp.NextPageToken
			if pageToken == "" {
				break
			}
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (t *Tree) Fetch(ctx context.Context, id string) (string, error) {
	resp, err := t.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return "", fmt.Errorf("download drive file %s: %w", id, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read drive file %s: %w", id, err)
	}
	return string(data), nil
}
