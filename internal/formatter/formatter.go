// package formatter exports mirrored playlists to various formats (JSON, CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
)

// Supported export formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "txt"
)

// Formats lists the accepted values for an export format.
var Formats = []string{FormatJSON, FormatCSV, FormatMarkdown, FormatText}

// TrackDocument is the JSON shape of a track.
type TrackDocument struct {
	ID         string     `json:"id"`
	ProviderID string     `json:"provider_id"`
	Name       string     `json:"name"`
	Artist     string     `json:"artist"`
	Album      string     `json:"album"`
	DurationMS int        `json:"duration_ms"`
	Duration   string     `json:"duration"`
	URL        string     `json:"url"`
	AddedAt    *time.Time `json:"added_at,omitempty"`
}

// PlaylistDocument is the JSON shape of a playlist. Tracks is omitted for summaries.
type PlaylistDocument struct {
	ID          string          `json:"id"`
	ProviderID  string          `json:"provider_id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	ImageURL    *string         `json:"image_url,omitempty"`
	URL         string          `json:"url"`
	TrackCount  int             `json:"track_count"`
	Duration    string          `json:"duration"`
	ImportedAt  time.Time       `json:"imported_at"`
	Tracks      []TrackDocument `json:"tracks,omitempty"`
}

// LibraryDocument is the JSON shape of a full mirror export.
type LibraryDocument struct {
	UserID     string             `json:"user_id"`
	ExportedAt time.Time          `json:"exported_at"`
	Playlists  []PlaylistDocument `json:"playlists"`
}

// NewTrackDocument converts a track for JSON output.
func NewTrackDocument(t models.Track) TrackDocument {
	return TrackDocument{
		ID:         t.ID,
		ProviderID: t.ProviderID,
		Name:       t.Name,
		Artist:     t.Artist,
		Album:      t.Album,
		DurationMS: t.DurationMS,
		Duration:   shared.FormatDuration(t.DurationMS),
		URL:        t.URL,
		AddedAt:    t.AddedAt,
	}
}

// NewTrackDocuments converts tracks for JSON output, never returning nil.
func NewTrackDocuments(tracks []models.Track) []TrackDocument {
	docs := make([]TrackDocument, len(tracks))
	for i, t := range tracks {
		docs[i] = NewTrackDocument(t)
	}
	return docs
}

// NewPlaylistDocument converts a playlist for JSON output, including tracks when withTracks is set.
func NewPlaylistDocument(p models.Playlist, withTracks bool) PlaylistDocument {
	doc := PlaylistDocument{
		ID:          p.ID,
		ProviderID:  p.ProviderID,
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		URL:         p.URL,
		TrackCount:  p.TrackCount(),
		Duration:    shared.FormatDuration(p.DurationMS()),
		ImportedAt:  p.ImportedAt,
	}
	if withTracks {
		doc.Tracks = NewTrackDocuments(p.Tracks)
	}
	return doc
}

// NewPlaylistDocuments converts playlists for JSON output, never returning nil.
func NewPlaylistDocuments(playlists []models.Playlist, withTracks bool) []PlaylistDocument {
	docs := make([]PlaylistDocument, len(playlists))
	for i, p := range playlists {
		docs[i] = NewPlaylistDocument(p, withTracks)
	}
	return docs
}

// ExportToJSON converts a user's mirror to an indented JSON document with tracks.
func ExportToJSON(userID string, playlists []models.Playlist) ([]byte, error) {
	doc := LibraryDocument{
		UserID:     userID,
		ExportedAt: time.Now().UTC(),
		Playlists:  NewPlaylistDocuments(playlists, true),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal library: %w", err)
	}
	return data, nil
}

// ExportToCSV converts a playlist to CSV format with columns: Position, Name, Artist, Album, Duration, Added, URL
func ExportToCSV(p models.Playlist) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Position", "Name", "Artist", "Album", "Duration", "Added", "URL"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for i, track := range p.Tracks {
		added := ""
		if track.AddedAt != nil {
			added = track.AddedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			strconv.Itoa(i + 1),
			track.Name,
			track.Artist,
			track.Album,
			shared.FormatDuration(track.DurationMS),
			added,
			track.URL,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a playlist to Markdown format with optional cover image
func ExportToMarkdown(p models.Playlist, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", p.Name)

	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}

	if p.Description != nil && *p.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", *p.Description)
	}

	fmt.Fprintf(&buf, "**Tracks**: %d\n", p.TrackCount())
	fmt.Fprintf(&buf, "**Duration**: %s\n", shared.FormatDuration(p.DurationMS()))
	if p.URL != "" {
		fmt.Fprintf(&buf, "**Link**: %s\n", p.URL)
	}
	buf.WriteString("\n## Tracks\n\n")

	for i, track := range p.Tracks {
		duration := shared.FormatDuration(track.DurationMS)
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n", i+1, track.Artist, track.Name, albumPart, duration)
	}

	return buf.Bytes(), nil
}

// ExportToText converts a playlist to plain text format
func ExportToText(p models.Playlist) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", p.Name)
	if p.Description != nil && *p.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", *p.Description)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", p.TrackCount())

	for i, track := range p.Tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, track.Artist, track.Name)
	}

	return buf.Bytes(), nil
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// ToMetadataJSON generates a JSON representation of playlist metadata (without tracks)
func ToMetadataJSON(p models.Playlist) ([]byte, error) {
	return json.MarshalIndent(NewPlaylistDocument(p, false), "", "  ")
}

// FileBase derives a filesystem-safe name from the playlist's provider ID, which survives resyncs.
func FileBase(p models.Playlist) string {
	base := p.ProviderID
	if base == "" {
		base = p.ID
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	TracksFile   string
	MetadataFile string
}

// WriteCSVExport exports a playlist to CSV format with accompanying metadata JSON file.
//
// Creates {base}_tracks.csv and {base}_metadata.json, where base defaults to [FileBase].
func WriteCSVExport(p models.Playlist, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = FileBase(p)
	}

	csvData, err := ExportToCSV(p)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	tracksFile := baseFilepath + "_tracks.csv"
	if err := os.WriteFile(tracksFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(p)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{
		TracksFile:   tracksFile,
		MetadataFile: metadataFile,
	}, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	CoverImage string
}

// WriteMarkdownExport exports a playlist to Markdown format in a dedicated directory.
//
// When downloadCover is set and the playlist has an image, the cover is saved next to the README.
// A failed download is skipped. Creates {dir}/README.md and optionally {dir}/cover.jpg
func WriteMarkdownExport(p models.Playlist, outputDir string, downloadCover bool) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = FileBase(p)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{
		Directory: outputDir,
		Files:     []string{},
	}

	var coverImageFilename string
	if downloadCover && p.ImageURL != nil {
		if imageData, err := DownloadImage(*p.ImageURL); err == nil {
			coverImagePath := filepath.Join(outputDir, "cover.jpg")
			if err := os.WriteFile(coverImagePath, imageData, 0644); err == nil {
				coverImageFilename = "cover.jpg"
				result.CoverImage = coverImagePath
				result.Files = append(result.Files, coverImagePath)
			}
		}
	}

	mdData, err := ExportToMarkdown(p, coverImageFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}

	result.Files = append(result.Files, mdFile)

	return result, nil
}

// WriteTextExport exports a playlist to plain text format.
//
// Defaults to {FileBase}_tracks.txt as the filename.
func WriteTextExport(p models.Playlist, path string) (string, error) {
	if path == "" {
		path = FileBase(p) + "_tracks.txt"
	}

	textData, err := ExportToText(p)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	return path, nil
}

// ExportOptions configures [WriteLibraryExport].
type ExportOptions struct {
	Format        string // json, csv, markdown or txt (default: json)
	OutputDir     string // Base output directory (default: mirror_export_{epoch})
	DownloadCover bool   // Markdown only: fetch cover images
}

// LibraryExportResult lists what [WriteLibraryExport] wrote.
type LibraryExportResult struct {
	Directory string
	Format    string
	Playlists int
	Files     []string
}

// WriteLibraryExport writes a user's mirror to opts.OutputDir.
//
// JSON produces a single library.json. The other formats write one entry per playlist named by [FileBase].
func WriteLibraryExport(userID string, playlists []models.Playlist, opts ExportOptions) (*LibraryExportResult, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if !slices.Contains(Formats, opts.Format) {
		return nil, fmt.Errorf("%w: unknown export format %q (want one of %s)", shared.ErrInvalidArgument, opts.Format, strings.Join(Formats, ", "))
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("mirror_export_%d", time.Now().Unix())
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &LibraryExportResult{Directory: opts.OutputDir, Format: opts.Format, Playlists: len(playlists)}

	switch opts.Format {
	case FormatJSON:
		data, err := ExportToJSON(userID, playlists)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(opts.OutputDir, "library.json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("JSON write failed: %w", err)
		}
		result.Files = []string{path}

	case FormatCSV:
		for _, p := range playlists {
			res, err := WriteCSVExport(p, filepath.Join(opts.OutputDir, FileBase(p)))
			if err != nil {
				return nil, fmt.Errorf("CSV export of %q failed: %w", p.Name, err)
			}
			result.Files = append(result.Files, res.TracksFile, res.MetadataFile)
		}

	case FormatMarkdown:
		for _, p := range playlists {
			res, err := WriteMarkdownExport(p, filepath.Join(opts.OutputDir, FileBase(p)), opts.DownloadCover)
			if err != nil {
				return nil, fmt.Errorf("markdown export of %q failed: %w", p.Name, err)
			}
			result.Files = append(result.Files, res.Files...)
		}

	case FormatText:
		for _, p := range playlists {
			path, err := WriteTextExport(p, filepath.Join(opts.OutputDir, FileBase(p)+"_tracks.txt"))
			if err != nil {
				return nil, fmt.Errorf("text export of %q failed: %w", p.Name, err)
			}
			result.Files = append(result.Files, path)
		}
	}

	return result, nil
}
