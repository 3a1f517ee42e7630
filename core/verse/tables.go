package verse

// chapterLengths holds the verse count of each chapter, index 0 = chapter 1.
var chapterLengths = [ChapterCount]int{
	7, 286, 200, 176, 120, 165, 206, 75, 129, 109,
	123, 111, 43, 52, 99, 128, 111, 110, 98, 135,
	112, 78, 118, 64, 77, 227, 93, 88, 69, 60,
	34, 30, 73, 54, 45, 83, 182, 88, 75, 85,
	54, 53, 89, 59, 37, 35, 38, 29, 18, 45,
	60, 49, 62, 55, 78, 96, 29, 22, 24, 13,
	14, 11, 11, 18, 12, 12, 30, 52, 52, 44,
	28, 28, 20, 56, 40, 31, 50, 40, 46, 42,
	29, 19, 36, 25, 22, 17, 19, 26, 30, 20,
	15, 21, 11, 8, 8, 19, 5, 8, 8, 11,
	11, 8, 3, 9, 5, 4, 7, 3, 6, 3,
	5, 4, 5, 6,
}

// chapterStartPages is the Madani mushaf page on which each chapter begins.
var chapterStartPages = [ChapterCount]int{
	1, 2, 50, 77, 106, 128, 151, 177, 187, 208,
	221, 235, 249, 255, 262, 267, 282, 293, 305, 312,
	322, 332, 342, 350, 359, 367, 377, 385, 396, 404,
	411, 415, 418, 428, 434, 440, 446, 453, 458, 467,
	477, 483, 489, 496, 499, 502, 507, 511, 515, 518,
	520, 523, 526, 528, 531, 534, 537, 542, 545, 549,
	551, 553, 554, 556, 558, 560, 562, 564, 566, 568,
	570, 572, 574, 575, 577, 578, 580, 582, 583, 585,
	586, 587, 587, 589, 590, 591, 591, 592, 593, 594,
	595, 595, 596, 596, 597, 597, 598, 598, 599, 599,
	600, 600, 601, 601, 601, 602, 602, 602, 603, 603,
	603, 604, 604, 604,
}

// partStartPages is the page on which each of the 30 parts begins.
var partStartPages = [PartCount]int{
	1, 22, 42, 62, 82, 102, 121, 142, 162, 182,
	201, 222, 242, 262, 282, 302, 322, 342, 362, 382,
	402, 422, 442, 462, 482, 502, 522, 542, 562, 582,
}

var chapterNames = [ChapterCount]string{
	"Al-Fatihah", "Al-Baqarah", "Ali 'Imran", "An-Nisa", "Al-Ma'idah",
	"Al-An'am", "Al-A'raf", "Al-Anfal", "At-Tawbah", "Yunus",
	"Hud", "Yusuf", "Ar-Ra'd", "Ibrahim", "Al-Hijr",
	"An-Nahl", "Al-Isra", "Al-Kahf", "Maryam", "Taha",
	"Al-Anbya", "Al-Hajj", "Al-Mu'minun", "An-Nur", "Al-Furqan",
	"Ash-Shu'ara", "An-Naml", "Al-Qasas", "Al-'Ankabut", "Ar-Rum",
	"Luqman", "As-Sajdah", "Al-Ahzab", "Saba", "Fatir",
	"Ya-Sin", "As-Saffat", "Sad", "Az-Zumar", "Ghafir",
	"Fussilat", "Ash-Shuraa", "Az-Zukhruf", "Ad-Dukhan", "Al-Jathiyah",
	"Al-Ahqaf", "Muhammad", "Al-Fath", "Al-Hujurat", "Qaf",
	"Adh-Dhariyat", "At-Tur", "An-Najm", "Al-Qamar", "Ar-Rahman",
	"Al-Waqi'ah", "Al-Hadid", "Al-Mujadila", "Al-Hashr", "Al-Mumtahanah",
	"As-Saf", "Al-Jumu'ah", "Al-Munafiqun", "At-Taghabun", "At-Talaq",
	"At-Tahrim", "Al-Mulk", "Al-Qalam", "Al-Haqqah", "Al-Ma'arij",
	"Nuh", "Al-Jinn", "Al-Muzzammil", "Al-Muddaththir", "Al-Qiyamah",
	"Al-Insan", "Al-Mursalat", "An-Naba", "An-Nazi'at", "'Abasa",
	"At-Takwir", "Al-Infitar", "Al-Mutaffifin", "Al-Inshiqaq", "Al-Buruj",
	"At-Tariq", "Al-A'la", "Al-Ghashiyah", "Al-Fajr", "Al-Balad",
	"Ash-Shams", "Al-Layl", "Ad-Duhaa", "Ash-Sharh", "At-Tin",
	"Al-'Alaq", "Al-Qadr", "Al-Bayyinah", "Az-Zalzalah", "Al-'Adiyat",
	"Al-Qari'ah", "At-Takathur", "Al-'Asr", "Al-Humazah", "Al-Fil",
	"Quraysh", "Al-Ma'un", "Al-Kawthar", "Al-Kafirun", "An-Nasr",
	"Al-Masad", "Al-Ikhlas", "Al-Falaq", "An-Nas",
}

// prostrationVerses lists the fifteen verses marked for prostration.
var prostrationVerses = map[Address]struct{}{
	{7, 206}: {}, {13, 15}: {}, {16, 50}: {}, {17, 109}: {}, {19, 58}: {},
	{22, 18}: {}, {22, 77}: {}, {25, 60}: {}, {27, 26}: {}, {32, 15}: {},
	{38, 24}: {}, {41, 38}: {}, {53, 62}: {}, {84, 21}: {}, {96, 19}: {},
}

// chapterOffsets[i] is the number of verses in chapters 1..i.
var chapterOffsets [ChapterCount + 1]int

func init() {
	for i, n := range chapterLengths {
		chapterOffsets[i+1] = chapterOffsets[i] + n
	}
}
